package authinject

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/connectorrt/runtime/internal/cloudauth"
	"github.com/connectorrt/runtime/internal/connector"
)

// BuildCustomTransport resolves AuthCustom's authConfig.custom.kind to one of
// cloudauth's RoundTrippers, wrapping base. Unrecognized kinds return base
// unchanged, trusting the operation template to supply its own auth.
func BuildCustomTransport(ctx context.Context, cfg connector.CustomAuthConfig, base http.RoundTripper) (http.RoundTripper, error) {
	switch cfg.Kind {
	case "gcp_oauth":
		rt, err := cloudauth.NewGCPOAuthTransport(ctx, base, cfg.Scopes...)
		if err != nil {
			return nil, err
		}
		return rt, nil
	case "aws_sigv4":
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("authinject: load AWS config: %w", err)
		}
		return cloudauth.NewAWSSigV4Transport(base, awsCfg.Credentials, cfg.Region, cfg.Service), nil
	case "":
		return base, nil
	default:
		return base, nil
	}
}

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the slice of the SSM client SSMSource needs. *ssm.Client
// satisfies it.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParamGetter fetches a single named parameter.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// SSMSource reads credentials from AWS Systems Manager Parameter Store.
type SSMSource struct {
	api ssmAPI
}

func NewSSMSource(api ssmAPI) (*SSMSource, error) {
	if api == nil {
		return nil, errors.New("ssm: api must not be nil")
	}
	return &SSMSource{api: api}, nil
}

// NewSSMSourceFromEnv builds an SSMSource from the default AWS credential
// chain (env, shared config, instance role).
func NewSSMSourceFromEnv(ctx context.Context) (*SSMSource, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewSSMSource(ssm.NewFromConfig(awsCfg))
}

func (s *SSMSource) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("ssm: parameter name is required")
	}

	withDecryption := true
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("ssm: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("ssm: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

type ssmCredentials struct {
	APIKey       string `json:"api_key"`
	RefreshToken string `json:"refresh_token"`
	Token        string `json:"token"`
}

// ApplySSMSecrets fills auth secrets that are still empty from the
// parameter named by auth.ssm_parameter. The parameter holds either a JSON
// object with api_key, refresh_token and token fields, or a bare refresh
// token. It is a no-op when no parameter is configured.
func ApplySSMSecrets(ctx context.Context, cfg *Config, g ParamGetter) error {
	if cfg.Auth.SSMParameter == "" {
		return nil
	}

	raw, err := g.GetParameter(ctx, cfg.Auth.SSMParameter)
	if err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)

	var creds ssmCredentials
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &creds); err != nil {
			return fmt.Errorf("ssm: parsing parameter %q: %w", cfg.Auth.SSMParameter, err)
		}
	} else {
		creds.RefreshToken = raw
	}

	if cfg.Auth.APIKey == "" {
		cfg.Auth.APIKey = creds.APIKey
	}
	if cfg.Auth.RefreshToken == "" {
		cfg.Auth.RefreshToken = creds.RefreshToken
	}
	if cfg.Auth.Token == "" {
		cfg.Auth.Token = creds.Token
	}
	return nil
}

// Package params resolves named deployment parameters (hosts, credentials,
// limits) from SSM Parameter Store, the environment or a YAML file.
package params

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// AppName prefixes environment variables: SWODLR_<name>.
	AppName = "swodlr"

	// SSMPath is the parameter hierarchy read in production.
	SSMPath = "/service/" + AppName + "/raster_create/"

	// EnvVar selects the backend; "prod" (the default) reads SSM.
	EnvVar = "SWODLR_ENV"
)

// Store is a read-only key-value lookup by logical parameter name.
type Store interface {
	Get(name string) (string, bool)
}

// Map is a Store backed by a resolved set of parameters.
type Map map[string]string

// Get returns the named parameter.
func (m Map) Get(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Env is a Store reading SWODLR_<name> environment variables.
type Env struct{}

// Get returns the named parameter from the environment.
func (Env) Get(name string) (string, bool) {
	return os.LookupEnv(strings.ToUpper(AppName) + "_" + name)
}

// SSMAPI is the subset of the SSM client used here.
type SSMAPI interface {
	ssm.GetParametersByPathAPIClient
}

// LoadSSM reads every parameter under path, decrypting secure strings.
// Names are returned relative to path.
func LoadSSM(ctx context.Context, client SSMAPI, path string) (Map, error) {
	out := make(Map)
	pager := ssm.NewGetParametersByPathPaginator(client, &ssm.GetParametersByPathInput{
		Path:           aws.String(path),
		WithDecryption: aws.Bool(true),
		Recursive:      aws.Bool(true),
	})

	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("get parameters by path %s: %w", path, err)
		}
		for _, p := range page.Parameters {
			name := strings.TrimPrefix(aws.ToString(p.Name), path)
			out[name] = aws.ToString(p.Value)
		}
	}

	return out, nil
}

// LoadFile reads a flat YAML mapping of parameter names to values.
func LoadFile(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read params file: %w", err)
	}

	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse params file: %w", err)
	}

	out := make(Map, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

// Load resolves the store for this process. In prod, parameters come from SSM;
// otherwise a .env file (if any) is loaded and the environment is used.
func Load(ctx context.Context) (Store, error) {
	env := os.Getenv(EnvVar)
	if env == "" {
		env = "prod"
	}

	if env != "prod" {
		// A missing .env is fine; variables may be set directly.
		_ = godotenv.Load()
		return Env{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return LoadSSM(ctx, ssm.NewFromConfig(awsCfg), SSMPath)
}

// Layered returns a Store that consults each store in order.
func Layered(stores ...Store) Store {
	return layered(stores)
}

type layered []Store

func (l layered) Get(name string) (string, bool) {
	for _, s := range l {
		if s == nil {
			continue
		}
		if v, ok := s.Get(name); ok {
			return v, true
		}
	}
	return "", false
}

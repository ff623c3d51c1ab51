package policyoverride

import (
	"os"

	documentrules "github.com/ericselin/policy-override/pkg/document-rules"
	"github.com/ericselin/policy-override/store"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration file.
//
//	port: 8080
//	origin: https://example.com
//	db: overrides.db
//	features: [camera, geolocation]
//	documents:
//	  - prefix: /admin
//	    exclude: true
//	sessions:
//	  default:
//	    - feature: camera
//	      allowed: false
//	      allowList: ["'none'"]
type FileConfig struct {
	Port            int                         `yaml:"port"`
	Origin          string                      `yaml:"origin"`
	Host            string                      `yaml:"host"`
	DB              string                      `yaml:"db"`
	Prefix          string                      `yaml:"prefix"`
	SessionHeader   string                      `yaml:"sessionHeader"`
	PersistOnReload bool                        `yaml:"persistOnReload"`
	Features        []string                    `yaml:"features"`
	Documents       documentrules.Rules         `yaml:"documents"`
	Sessions        map[string][]store.Override `yaml:"sessions"`
}

func LoadConfig(filename string) (FileConfig, error) {
	var config FileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

// SeedSessions opens the sessions of the config and gives each the
// configured overrides. Sessions that already have saved overrides keep them.
func (c FileConfig) SeedSessions(r *Registry) error {
	for id, overrides := range c.Sessions {
		_, m, err := r.Open(id)
		if err != nil {
			return err
		}
		if len(m.CustomizedPolicies()) == 0 {
			m.SetCustomizedPolicies(fromOverrides(overrides))
		}
	}
	return nil
}

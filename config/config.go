package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   Server    `yaml:"server"`
	Clusters []Cluster `yaml:"clusters"`
}

type Server struct {
	// UseMockBackends forces every cluster onto the in-process mock
	// adapter, tagged with the cluster's real type. Test/demo only.
	UseMockBackends bool `yaml:"useMockBackends"`
}

// Cluster is the static configuration of one named scheduling target.
// Which fields matter depends on Type: slurm uses Endpoint/Auth (and
// optionally Namespace+ControllerPod for token minting and Slurmdb for
// accounting); flux uses Namespace/Minicluster/FluxURI/Container.
type Cluster struct {
	Name          string   `yaml:"name"`
	Type          string   `yaml:"type"` // slurm | flux | mock
	Endpoint      string   `yaml:"endpoint"`
	Namespace     string   `yaml:"namespace"`
	Minicluster   string   `yaml:"minicluster"`
	FluxURI       string   `yaml:"fluxUri"`
	Container     string   `yaml:"container"`
	ControllerPod string   `yaml:"controllerPod"`
	Auth          Auth     `yaml:"auth"`
	Slurmdb       *Slurmdb `yaml:"slurmdb"`
}

type Auth struct {
	User  string `yaml:"user"`
	Token string `yaml:"token"`
}

type Slurmdb struct {
	ClusterName     string `yaml:"ClusterName"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	Charset         string `yaml:"charset"`
	ParseTime       bool   `yaml:"parseTime"`
	Loc             string `yaml:"loc"`
	TLS             string `yaml:"tls"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime string `yaml:"connMaxLifetime"`
}

// Load reads a YAML config file from the given path and unmarshals into Config.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	for i, c := range cfg.Clusters {
		if c.Name == "" {
			return nil, fmt.Errorf("clusters[%d]: name is required", i)
		}
		if c.Type == "" {
			return nil, fmt.Errorf("cluster %q: type is required", c.Name)
		}
	}
	return &cfg, nil
}

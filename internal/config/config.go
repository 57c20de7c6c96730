package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"

	"visca-bridge/internal/serialport"
)

const (
	DefaultPort              = "/dev/ttyUSB0"
	DefaultBaud              = 9600
	DefaultDriver            = serialport.DriverBugst
	DefaultReadTimeout       = time.Second
	DefaultCompletionTimeout = 10 * time.Second
	DefaultWriteTimeout      = 2 * time.Second
	DefaultMaxEscalations    = 1
	DefaultListen            = "localhost:8080"
)

// Schema is the HCL file layout:
//
//	serial {
//	  port = "/dev/ttyUSB0"
//	  baud = 9600
//	  completion_timeout = "10s"
//	}
//	server {
//	  listen = ":8080"
//	}
type Schema struct {
	Serial *SerialSchema `hcl:"serial,block"`
	Server *ServerSchema `hcl:"server,block"`
}

type SerialSchema struct {
	Port              string `hcl:"port,optional"`
	Baud              int    `hcl:"baud,optional"`
	Driver            string `hcl:"driver,optional"`
	ReadTimeout       string `hcl:"read_timeout,optional"`
	CompletionTimeout string `hcl:"completion_timeout,optional"`
	WriteTimeout      string `hcl:"write_timeout,optional"`
	MaxEscalations    *int   `hcl:"max_escalations,optional"`
}

type ServerSchema struct {
	Listen  string `hcl:"listen,optional"`
	Metrics *bool  `hcl:"metrics,optional"`
}

// Config is the resolved configuration with defaults applied
type Config struct {
	Serial Serial
	Server Server
}

type Serial struct {
	Port              string
	Baud              int
	Driver            string
	ReadTimeout       time.Duration
	CompletionTimeout time.Duration
	WriteTimeout      time.Duration
	MaxEscalations    int
}

type Server struct {
	Listen  string
	Metrics bool
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Serial: Serial{
			Port:              DefaultPort,
			Baud:              DefaultBaud,
			Driver:            DefaultDriver,
			ReadTimeout:       DefaultReadTimeout,
			CompletionTimeout: DefaultCompletionTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			MaxEscalations:    DefaultMaxEscalations,
		},
		Server: Server{
			Listen:  DefaultListen,
			Metrics: true,
		},
	}
}

// Load reads an HCL file and resolves it against the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Decode(data)
}

// Decode parses HCL data and resolves it against the defaults
func Decode(data []byte) (*Config, error) {
	s := new(Schema)
	if err := s.Decode(data); err != nil {
		return nil, err
	}
	return s.Resolve()
}

func (s *Schema) Decode(data []byte) error {
	file, diag := hclsyntax.ParseConfig(data, "", hcl.Pos{Line: 1, Column: 1})
	if diag.HasErrors() {
		return diag.Errs()[0]
	}

	diag = gohcl.DecodeBody(file.Body, nil, s)
	if diag.HasErrors() {
		return diag.Errs()[0]
	}

	return nil
}

// Resolve applies defaults for anything the schema leaves out, then validates
func (s *Schema) Resolve() (*Config, error) {
	c := Default()

	if ser := s.Serial; ser != nil {
		if ser.Port != "" {
			c.Serial.Port = ser.Port
		}
		if ser.Baud != 0 {
			c.Serial.Baud = ser.Baud
		}
		if ser.Driver != "" {
			c.Serial.Driver = ser.Driver
		}
		for _, d := range []struct {
			name string
			val  string
			dst  *time.Duration
		}{
			{"read_timeout", ser.ReadTimeout, &c.Serial.ReadTimeout},
			{"completion_timeout", ser.CompletionTimeout, &c.Serial.CompletionTimeout},
			{"write_timeout", ser.WriteTimeout, &c.Serial.WriteTimeout},
		} {
			if d.val == "" {
				continue
			}
			v, err := time.ParseDuration(d.val)
			if err != nil {
				return nil, fmt.Errorf("invalid %s %q: %w", d.name, d.val, err)
			}
			*d.dst = v
		}
		if ser.MaxEscalations != nil {
			c.Serial.MaxEscalations = *ser.MaxEscalations
		}
	}

	if srv := s.Server; srv != nil {
		if srv.Listen != "" {
			c.Server.Listen = srv.Listen
		}
		if srv.Metrics != nil {
			c.Server.Metrics = *srv.Metrics
		}
	}

	return c, c.Validate()
}

func (c *Config) Validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial port is required")
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.Serial.Baud)
	}
	switch c.Serial.Driver {
	case serialport.DriverBugst, serialport.DriverTarm:
	default:
		return fmt.Errorf("unknown serial driver %q", c.Serial.Driver)
	}
	if c.Serial.ReadTimeout <= 0 || c.Serial.CompletionTimeout <= 0 || c.Serial.WriteTimeout <= 0 {
		return fmt.Errorf("serial timeouts must be positive")
	}
	if c.Serial.MaxEscalations < 0 {
		return fmt.Errorf("max_escalations must not be negative")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	return nil
}

// Schema converts a resolved config back to its file form
func (c *Config) Schema() *Schema {
	esc := c.Serial.MaxEscalations
	met := c.Server.Metrics
	return &Schema{
		Serial: &SerialSchema{
			Port:              c.Serial.Port,
			Baud:              c.Serial.Baud,
			Driver:            c.Serial.Driver,
			ReadTimeout:       c.Serial.ReadTimeout.String(),
			CompletionTimeout: c.Serial.CompletionTimeout.String(),
			WriteTimeout:      c.Serial.WriteTimeout.String(),
			MaxEscalations:    &esc,
		},
		Server: &ServerSchema{
			Listen:  c.Server.Listen,
			Metrics: &met,
		},
	}
}

func (s *Schema) Encode() []byte {
	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(s, f.Body())
	return f.Bytes()
}

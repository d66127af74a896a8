package course

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"coursekeeper.ai/internal/region"
)

//go:embed level.schema.json
var levelSchemaJSON string

var levelSchema = jsonschema.MustCompileString("https://coursekeeper.ai/schemas/level.schema.json", levelSchemaJSON)

type Point struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	Z int `yaml:"z"`
}

func (p Point) Vec() [3]int { return [3]int{p.X, p.Y, p.Z} }

func pointOf(v [3]int) Point { return Point{X: v[0], Y: v[1], Z: v[2]} }

// Config is the on-disk record of a level's region.
type Config struct {
	World string `yaml:"world"`
	Min   Point  `yaml:"min"`
	Max   Point  `yaml:"max"`
}

func ConfigOf(r region.Descriptor) Config {
	return Config{World: r.WorldID, Min: pointOf(r.Min), Max: pointOf(r.Max)}
}

// ParseConfig decodes and schema-checks a level config. Any failure is an
// InvalidRegionError: the file does not describe a usable region.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return cfg, &region.InvalidRegionError{Reason: fmt.Sprintf("config yaml: %v", err)}
	}
	// The schema validator wants JSON-shaped values.
	jb, err := json.Marshal(doc)
	if err != nil {
		return cfg, &region.InvalidRegionError{Reason: fmt.Sprintf("config shape: %v", err)}
	}
	var jdoc any
	if err := json.Unmarshal(jb, &jdoc); err != nil {
		return cfg, &region.InvalidRegionError{Reason: fmt.Sprintf("config shape: %v", err)}
	}
	if err := levelSchema.Validate(jdoc); err != nil {
		return cfg, &region.InvalidRegionError{Reason: fmt.Sprintf("config schema: %v", err)}
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, &region.InvalidRegionError{Reason: fmt.Sprintf("config yaml: %v", err)}
	}
	return cfg, nil
}

func (c Config) Region() (region.Descriptor, error) {
	return region.New(c.World, c.Min.Vec(), c.Max.Vec())
}

func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

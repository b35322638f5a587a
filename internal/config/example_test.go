package config_test

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/RichLycus/ProjekUtama-sub000/internal/config"
)

// ExampleLoadFromPath demonstrates loading config from a specific path. A
// missing file is created with defaults.
func ExampleLoadFromPath() {
	dir, err := os.MkdirTemp("", "modeflow-config")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	cfg, err := config.LoadFromPath(filepath.Join(dir, "config.yaml"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Println("Cache backend:", cfg.Cache.Backend)
	fmt.Println("Fast route:", cfg.Pipelines.Routes["fast"])
	// Output:
	// Cache backend: memory
	// Fast route: fast/default
}

// ExampleConfig_SaveToPath demonstrates saving configuration changes.
func ExampleConfig_SaveToPath() {
	dir, err := os.MkdirTemp("", "modeflow-config")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "config.yaml")

	cfg := config.Default()
	cfg.Cache.Backend = "sqlite"
	cfg.Selector.EnableHybrid = false

	if err := cfg.SaveToPath(path); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := config.LoadFromPath(path)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(loaded.Cache.Backend, loaded.Selector.EnableHybrid)
	// Output: sqlite false
}

// ExampleConfig_Validate demonstrates validation of configuration.
func ExampleConfig_Validate() {
	cfg := config.Default()
	cfg.Cache.Backend = "memcached"

	if err := cfg.Validate(); err != nil {
		fmt.Println("Configuration is invalid")
	}
	// Output: Configuration is invalid
}

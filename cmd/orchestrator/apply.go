package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a desired-state manifest",
	Long: `Apply desired state from a YAML manifest to a running orchestrator.

Example manifest:

  images:
    - image: redis:7
      min_replicas: 1
      max_replicas: 3
      ports:
        "6379/tcp": 0
      resources:
        cpu: "0.5"
        memory: "256m"
        status: running`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	applyCmd.Flags().String("server", "http://localhost:8080", "Orchestrator address")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// manifest is the apply file format.
type manifest struct {
	Images []types.DesiredImageConfig `yaml:"images"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	server, _ := cmd.Flags().GetString("server")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Images) == 0 {
		return fmt.Errorf("manifest declares no images")
	}

	hc := &http.Client{Timeout: 30 * time.Second}
	for _, cfg := range m.Images {
		if cfg.Image == "" {
			return fmt.Errorf("manifest entry without an image")
		}
		if cfg.MinReplicas == 0 && cfg.MaxReplicas == 0 {
			cfg.MinReplicas, cfg.MaxReplicas = 1, 1
		}
		if err := applyImage(hc, server, cfg); err != nil {
			return err
		}
		fmt.Printf("applied %s\n", cfg.Image)
	}
	return nil
}

func applyImage(hc *http.Client, server string, cfg types.DesiredImageConfig) error {
	body, err := json.Marshal(map[string]any{
		"min_replicas": cfg.MinReplicas,
		"max_replicas": cfg.MaxReplicas,
		"env":          cfg.Env,
		"ports":        cfg.Ports,
		"resources":    cfg.Resources,
	})
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s/images/%s/start", server, url.PathEscape(cfg.Image))
	resp, err := hc.Post(u, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("apply %s: %w", cfg.Image, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("apply %s: status %d: %s", cfg.Image, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

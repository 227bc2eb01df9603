package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/upd8r/upd8r/internal/config"
)

const envExampleFile = ".env.example"

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with example files",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	created := 0
	files := []struct {
		name string
		data string
	}{
		{config.DefaultConfigFile, exampleConfig},
		{envExampleFile, exampleEnv},
	}
	for _, f := range files {
		wrote, err := writeIfNotExists(w, filepath.Join(configDir, f.name), []byte(f.data))
		if err != nil {
			return err
		}
		if wrote {
			created++
		}
	}

	if created == 0 {
		fmt.Fprintf(w, "Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Fprintf(w, "Initialized %s with %d files.\n", configDir, created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(w io.Writer, path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# upd8r configuration

log:
  level: info
  format: console

poll:
  interval: 60s
  # schedule: "*/5 * * * *"

watermark:
  driver: file          # file or sqlite
  path: state           # relative to this directory
  on_persist_error: warn

# status:
#   listen: 127.0.0.1:8088

media:
  - key: hs2
    name: Homestuck^2
    source: rss
    rss:
      url: https://www.homestuck2.com/story/rss
      id_from: link
      title_from: description
      dedup_by_date: true
  # - key: pq
  #   name: Paradox Space
  #   source: chapter_index
  #   chapter_index:
  #     url: https://example.com/archive
  #     selector: "a.chapter"
  # - key: game
  #   source: steam
  #   steam:
  #     app_id: 623940

sinks:
  console: true
  # discord:
  #   token_env: DISCORD_TOKEN
  #   channel_id: "688125787349712975"
  # mastodon:
  #   instance: https://botsin.space
  #   access_token_env: MASTODON_TOKEN
  # telegram:
  #   token_env: TELEGRAM_TOKEN
  #   chat_id: -1001234567890
`

const exampleEnv = `# Copy to .env and fill in. Real environment variables take precedence.
DISCORD_TOKEN=
MASTODON_TOKEN=
TELEGRAM_TOKEN=
`

package config_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/NurRobin/ollama-chat/pkg/config"
)

var _ = Describe("Config", func() {
	var (
		dir  string
		path string
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, "config.toml")

		GinkgoT().Setenv(config.EnvHost, "")
		GinkgoT().Setenv(config.EnvModel, "")
	})

	write := func(content string) {
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
	}

	Describe("Load", func() {
		It("returns the defaults when the file does not exist", func() {
			cfg, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Host).To(Equal("http://localhost:11434"))
			Expect(cfg.IdleTimeout.Duration).To(Equal(2 * time.Minute))
			Expect(cfg.Storage.Driver).To(Equal(config.DriverSQLite))
			Expect(cfg.Server.Listen).To(Equal(":8080"))
			Expect(*cfg.Options.Temperature).To(Equal(0.7))
			Expect(*cfg.Options.TopP).To(Equal(0.9))
		})

		It("reads values from the file over the defaults", func() {
			write(`
host = "http://gpu-box:11434/"
model = "llama3"
system_prompt = "You are helpful."
idle_timeout = "45s"
accept_incomplete = true

[storage]
driver = "memory"

[options]
temperature = 0.2
num_ctx = 8192
`)

			cfg, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Host).To(Equal("http://gpu-box:11434"))
			Expect(cfg.Model).To(Equal("llama3"))
			Expect(cfg.SystemPrompt).To(Equal("You are helpful."))
			Expect(cfg.IdleTimeout.Duration).To(Equal(45 * time.Second))
			Expect(cfg.AcceptIncomplete).To(BeTrue())
			Expect(cfg.Storage.Driver).To(Equal(config.DriverMemory))
			Expect(cfg.Server.Listen).To(Equal(":8080"))

			opts := cfg.LLMOptions()
			Expect(*opts.Temperature).To(Equal(0.2))
			Expect(*opts.TopP).To(Equal(0.9))
			Expect(*opts.NumCtx).To(Equal(8192))
			Expect(opts.TopK).To(BeNil())
		})

		It("lets the environment override the file", func() {
			write(`host = "http://file-host:11434"` + "\n" + `model = "mistral"`)
			GinkgoT().Setenv(config.EnvHost, "0.0.0.0:11434")
			GinkgoT().Setenv(config.EnvModel, "llama3")

			cfg, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Host).To(Equal("http://0.0.0.0:11434"))
			Expect(cfg.Model).To(Equal("llama3"))
		})

		It("rejects unknown keys", func() {
			write(`modle = "llama3"`)

			_, err := config.Load(path)
			Expect(err).To(MatchError(ContainSubstring("unknown keys")))
			Expect(err).To(MatchError(ContainSubstring("modle")))
		})

		It("rejects malformed TOML", func() {
			write(`host = `)

			_, err := config.Load(path)
			Expect(err).To(MatchError(ContainSubstring("failed to parse")))
		})

		DescribeTable("rejects out of range values",
			func(content, message string) {
				write(content)
				_, err := config.Load(path)
				Expect(err).To(MatchError(ContainSubstring(message)))
			},
			Entry("driver", "[storage]\ndriver = \"postgres\"", "storage.driver"),
			Entry("temperature", "[options]\ntemperature = 3.5", "options.temperature"),
			Entry("top_p", "[options]\ntop_p = 1.5", "options.top_p"),
			Entry("idle timeout", `idle_timeout = "-1s"`, "idle_timeout"),
			Entry("duration syntax", `idle_timeout = "soon"`, "failed to parse"),
		)
	})

	Describe("Save", func() {
		It("writes a file Load reads back", func() {
			cfg := config.Default()
			cfg.Model = "llama3"
			cfg.IdleTimeout.Duration = 30 * time.Second
			nested := filepath.Join(dir, "nested", "config.toml")

			Expect(config.Save(nested, cfg)).To(Succeed())

			loaded, err := config.Load(nested)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Model).To(Equal("llama3"))
			Expect(loaded.IdleTimeout.Duration).To(Equal(30 * time.Second))
			Expect(*loaded.Options.Temperature).To(Equal(0.7))
		})
	})

	Describe("LoadEnv", func() {
		It("loads variables from a .env file without overwriting", func() {
			env := filepath.Join(dir, ".env")
			Expect(os.WriteFile(env, []byte("OLLAMA_CHAT_MODEL=from-dotenv\nOLLAMA_CHAT_TEST_VAR=set\n"), 0o644)).To(Succeed())
			GinkgoT().Setenv("OLLAMA_CHAT_TEST_VAR", "already")
			os.Unsetenv(config.EnvModel)

			Expect(config.LoadEnv(env)).To(Succeed())
			Expect(os.Getenv(config.EnvModel)).To(Equal("from-dotenv"))
			Expect(os.Getenv("OLLAMA_CHAT_TEST_VAR")).To(Equal("already"))
		})

		It("ignores missing files", func() {
			Expect(config.LoadEnv(filepath.Join(dir, "missing.env"))).To(Succeed())
		})
	})

	Describe("Watch", func() {
		It("reloads the file when it changes", func(ctx SpecContext) {
			write(`model = "llama3"`)

			watchCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			changes := make(chan *config.Config, 4)
			done := make(chan error, 1)
			go func() {
				done <- config.Watch(watchCtx, path, zap.NewNop(), func(cfg *config.Config) {
					select {
					case changes <- cfg:
					default:
					}
				})
			}()

			Eventually(func(g Gomega) {
				write(`model = "mistral"`)
				var cfg *config.Config
				g.Eventually(changes).WithTimeout(200 * time.Millisecond).Should(Receive(&cfg))
				g.Expect(cfg.Model).To(Equal("mistral"))
			}).WithTimeout(5 * time.Second).Should(Succeed())

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		}, SpecTimeout(10*time.Second))
	})
})

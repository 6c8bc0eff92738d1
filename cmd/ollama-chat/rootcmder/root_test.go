package rootcmder_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/rootcmder"
	"github.com/NurRobin/ollama-chat/pkg/ollama/ollamatest"
)

var savedAs = regexp.MustCompile(`Chat saved as (chat-[0-9a-f-]+)`)

var _ = Describe("ollama-chat", func() {
	var (
		ctx        context.Context
		backend    *ollamatest.Server
		tmpDir     string
		configPath string
		dbPath     string
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = ollamatest.NewServer()

		var err error
		tmpDir, err = os.MkdirTemp("", "ollama-chat-cli-test-*")
		Expect(err).NotTo(HaveOccurred())
		configPath = filepath.Join(tmpDir, "config.toml")
		dbPath = filepath.Join(tmpDir, "chats.db")
	})

	AfterEach(func() {
		backend.Close()
		os.RemoveAll(tmpDir)
	})

	run := func(stdin string, args ...string) (string, error) {
		var out, errOut bytes.Buffer
		cmd := rootcmder.NewRootCmd()
		cmd.SetIn(strings.NewReader(stdin))
		cmd.SetOut(&out)
		cmd.SetErr(&errOut)
		cmd.SetArgs(append(args,
			"--config", configPath,
			"--db", dbPath,
			"--host", backend.URL,
		))
		err := cmd.ExecuteContext(ctx)
		return out.String(), err
	}

	startChat := func(input string) string {
		out, err := run(input, "chat", "--plain", "-m", "test-model")
		Expect(err).NotTo(HaveOccurred())
		m := savedAs.FindStringSubmatch(out)
		Expect(m).To(HaveLen(2), "output: %s", out)
		return m[1]
	}

	Describe("chat", func() {
		It("streams replies line by line and saves the chat", func() {
			out, err := run("Why is the sky blue?\n\n", "chat", "--plain", "-m", "test-model")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HavePrefix("Hello!\n"))
			Expect(out).To(MatchRegexp(`Chat saved as chat-`))

			reqs := backend.ChatRequests()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].Model).To(Equal("test-model"))
			Expect(reqs[0].Messages[len(reqs[0].Messages)-1].Content).To(Equal("Why is the sky blue?"))
		})

		It("stops at /exit", func() {
			_, err := run("first\n/exit\nsecond\n", "chat", "--plain", "-m", "test-model")
			Expect(err).NotTo(HaveOccurred())
			Expect(backend.ChatRequests()).To(HaveLen(1))
		})

		It("resumes a chat with its history", func() {
			id := startChat("first question\n")

			out, err := run("second question\n", "chat", "--plain", id)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Chat saved as " + id))

			reqs := backend.ChatRequests()
			Expect(reqs).To(HaveLen(2))
			contents := []string{}
			for _, m := range reqs[1].Messages {
				contents = append(contents, m.Content)
			}
			Expect(contents).To(ContainElements("first question", "Hello!", "second question"))
		})

		It("requires a model for a new chat", func() {
			_, err := run("hi\n", "chat", "--plain")
			Expect(err).To(MatchError(ContainSubstring("no model given")))
		})

		It("fails on an unknown chat id", func() {
			_, err := run("hi\n", "chat", "--plain", "chat-does-not-exist")
			Expect(err).To(MatchError(ContainSubstring("could not open chat")))
		})

		It("returns the server error", func() {
			backend.FailWith(500)
			_, err := run("hi\n", "chat", "--plain", "-m", "test-model")
			Expect(err).To(MatchError(ContainSubstring("scripted failure")))
		})
	})

	Describe("chats", func() {
		It("lists, shows and deletes chats", func() {
			id := startChat("Tell me a joke\n")

			out, err := run("", "chats", "list")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(id))
			Expect(out).To(ContainSubstring("Tell me a joke"))
			Expect(out).To(ContainSubstring("test-model"))

			out, err = run("", "chats", "show", id)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("user: Tell me a joke"))
			Expect(out).To(ContainSubstring("assistant: Hello!"))

			out, err = run("", "chats", "delete", id)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Deleted " + id))

			out, err = run("", "chats", "list")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("No chats yet."))
		})

		It("fails to show a missing chat", func() {
			_, err := run("", "chats", "show", "chat-missing")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("models", func() {
		It("pulls, lists and deletes models", func() {
			out, err := run("", "models", "pull", "llama3")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("pulling manifest"))
			Expect(out).To(ContainSubstring("downloading: 50% of 100 B"))
			Expect(out).To(ContainSubstring("Pulled llama3"))
			Expect(backend.Pulls()).To(Equal([]string{"llama3"}))

			out, err = run("", "models", "list")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("llama3"))
			Expect(out).To(ContainSubstring("4.7 GB"))

			out, err = run("", "models", "delete", "llama3")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Deleted llama3"))
			Expect(backend.Models()).To(BeEmpty())
		})

		It("reports an empty model list", func() {
			out, err := run("", "models", "list")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("No models installed"))
		})

		It("surfaces pull errors", func() {
			_, err := run("", "models", "pull", "missing-model")
			Expect(err).To(MatchError(ContainSubstring("file does not exist")))
		})

		It("surfaces delete errors", func() {
			_, err := run("", "models", "delete", "nope")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("generate", func() {
		It("streams a completion from the arguments", func() {
			out, err := run("", "generate", "-m", "test-model", "Write", "a", "haiku")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("Hello!\n"))
		})

		It("reads the prompt from stdin", func() {
			out, err := run("Summarize this\n", "generate", "-m", "test-model")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("Hello!\n"))
		})

		It("rejects an empty prompt", func() {
			_, err := run("  \n", "generate", "-m", "test-model")
			Expect(err).To(MatchError("empty prompt"))
		})
	})

	Describe("config", func() {
		It("writes, shows and locates the config file", func() {
			out, err := run("", "config", "init", "-m", "llama3")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Wrote " + configPath))

			data, err := os.ReadFile(configPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`model = "llama3"`))

			out, err = run("", "config", "show")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(`model = "llama3"`))
			Expect(out).To(ContainSubstring(`host = "` + backend.URL + `"`))

			out, err = run("", "config", "path")
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(out)).To(Equal(configPath))
		})

		It("keeps an existing file unless forced", func() {
			_, err := run("", "config", "init")
			Expect(err).NotTo(HaveOccurred())

			_, err = run("", "config", "init")
			Expect(err).To(MatchError(ContainSubstring("already exists")))

			_, err = run("", "config", "init", "--force", "-m", "mistral")
			Expect(err).NotTo(HaveOccurred())
			data, err := os.ReadFile(configPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`model = "mistral"`))
		})

		It("rejects unknown keys", func() {
			Expect(os.WriteFile(configPath, []byte("colour = \"blue\"\n"), 0o644)).To(Succeed())
			_, err := run("", "config", "show")
			Expect(err).To(MatchError(ContainSubstring("unknown keys")))
		})
	})
})

package ollama_test

import (
	"context"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NurRobin/ollama-chat/pkg/llm"
	"github.com/NurRobin/ollama-chat/pkg/ollama"
	"github.com/NurRobin/ollama-chat/pkg/ollama/ollamatest"
)

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		srv    *ollamatest.Server
		client *ollama.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		srv = ollamatest.NewServer()
		client = ollama.New(srv.URL + "/")
	})

	AfterEach(func() {
		srv.Close()
	})

	It("trims the trailing slash of the base URL", func() {
		Expect(client.BaseURL()).To(Equal(srv.URL))
	})

	Describe("Chat", func() {
		It("returns the whole reply in one response", func() {
			resp, err := client.Chat(ctx, helloRequest())
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Done).To(BeTrue())
			Expect(resp.Message.Content).To(Equal("Hello!"))

			sent := srv.ChatRequests()
			Expect(sent).To(HaveLen(1))
			Expect(*sent[0].Stream).To(BeFalse())
		})

		It("surfaces endpoint failures", func() {
			srv.FailWith(http.StatusInternalServerError)

			_, err := client.Chat(ctx, helloRequest())
			var endpointErr *ollama.EndpointError
			Expect(errors.As(err, &endpointErr)).To(BeTrue())
			Expect(endpointErr.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(endpointErr.Message).To(Equal("scripted failure"))
		})
	})

	Describe("Generate", func() {
		It("streams the response field", func() {
			srv.SetReply("The sky", " is", " blue.")

			var chunks []string
			var full string
			err := client.StreamGenerate(ctx, &llm.GenerateRequest{Model: "llama3", Prompt: "Why is the sky blue?"},
				func(text string) { chunks = append(chunks, text) },
				func(text string) { full = text },
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(chunks).To(Equal([]string{"The sky", " is", " blue.", ""}))
			Expect(full).To(Equal("The sky is blue."))
		})

		It("returns a single response when not streaming", func() {
			resp, err := client.Generate(ctx, &llm.GenerateRequest{Model: "llama3", Prompt: "hi"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Response).To(Equal("Hello!"))
		})

		It("requires a model", func() {
			_, err := client.Generate(ctx, &llm.GenerateRequest{Prompt: "hi"})
			Expect(err).To(MatchError(ollama.ErrInvalidRequest))
		})
	})

	Describe("ListModels", func() {
		It("returns the installed models", func() {
			srv.SetModels(llm.Model{
				Name:    "llama3:latest",
				Size:    4_661_224_676,
				Details: llm.ModelDetails{ParameterSize: "8.0B", QuantizationLevel: "Q4_0"},
			})

			models, err := client.ListModels(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(models).To(HaveLen(1))
			Expect(models[0].Name).To(Equal("llama3:latest"))
			Expect(models[0].Details.ParameterSize).To(Equal("8.0B"))
		})

		It("returns an empty list from an empty server", func() {
			models, err := client.ListModels(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(models).To(BeEmpty())
		})
	})

	Describe("PullModel", func() {
		It("reports progress until success", func() {
			var statuses []string
			err := client.PullModel(ctx, "mistral", func(p llm.PullProgress) {
				statuses = append(statuses, p.Status)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(statuses).To(Equal([]string{"pulling manifest", "downloading", "downloading", "success"}))
			Expect(srv.Pulls()).To(Equal([]string{"mistral"}))

			models, err := client.ListModels(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(models).To(HaveLen(1))
		})

		It("fails on an error record", func() {
			var statuses []string
			err := client.PullModel(ctx, "missing-model", func(p llm.PullProgress) {
				statuses = append(statuses, p.Status)
			})
			Expect(err).To(MatchError(ContainSubstring("file does not exist")))

			var streamErr *ollama.StreamError
			Expect(errors.As(err, &streamErr)).To(BeTrue())
			Expect(statuses).To(Equal([]string{"pulling manifest"}))
		})

		It("requires a name", func() {
			Expect(client.PullModel(ctx, "", nil)).To(MatchError(ollama.ErrInvalidRequest))
		})
	})

	Describe("DeleteModel", func() {
		It("removes an installed model", func() {
			srv.SetModels(llm.Model{Name: "llama3:latest"})

			Expect(client.DeleteModel(ctx, "llama3:latest")).To(Succeed())
			Expect(srv.Models()).To(BeEmpty())
		})

		It("fails with EndpointError for an unknown model", func() {
			err := client.DeleteModel(ctx, "nope")

			var endpointErr *ollama.EndpointError
			Expect(errors.As(err, &endpointErr)).To(BeTrue())
			Expect(endpointErr.StatusCode).To(Equal(http.StatusNotFound))
			Expect(endpointErr.Message).To(ContainSubstring("not found"))
		})
	})
})

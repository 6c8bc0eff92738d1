package chat_test

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NurRobin/ollama-chat/pkg/chat"
	"github.com/NurRobin/ollama-chat/pkg/llm"
)

var _ = Describe("Chat", func() {
	var now time.Time

	BeforeEach(func() {
		now = time.Date(2026, 10, 19, 14, 30, 5, 0, time.UTC)
	})

	Describe("New", func() {
		It("creates an empty chat with a generated id", func() {
			c := chat.New("llama3", "My chat", "be terse", now)

			Expect(c.ID).To(HavePrefix("chat-"))
			Expect(c.Title).To(Equal("My chat"))
			Expect(c.Model).To(Equal("llama3"))
			Expect(c.SystemPrompt).To(Equal("be terse"))
			Expect(c.Messages).To(BeEmpty())
			Expect(c.CreatedAt).To(Equal(now))
			Expect(c.UpdatedAt).To(Equal(now))
		})

		It("defaults the title to the creation time", func() {
			c := chat.New("llama3", "", "", now)
			Expect(c.Title).To(Equal("New Chat 14:30:05"))
		})

		It("generates distinct ids", func() {
			Expect(chat.New("m", "", "", now).ID).NotTo(Equal(chat.New("m", "", "", now).ID))
		})
	})

	Describe("Append", func() {
		It("stamps the message and bumps UpdatedAt", func() {
			c := chat.New("llama3", "t", "", now)
			later := now.Add(time.Minute)

			c.Append(llm.Message{Role: llm.RoleAssistant, Content: "hello"}, later)

			Expect(c.Messages).To(HaveLen(1))
			Expect(*c.Messages[0].Timestamp).To(Equal(later))
			Expect(c.UpdatedAt).To(Equal(later))
			Expect(c.CreatedAt).To(Equal(now))
		})

		It("titles the chat after its first user message", func() {
			c := chat.New("llama3", "", "", now)
			c.Append(llm.Message{Role: llm.RoleUser, Content: "What is the capital of France and why?"}, now)

			Expect(c.Title).To(Equal("What is the capital of France ..."))

			c.Append(llm.Message{Role: llm.RoleUser, Content: "second"}, now)
			Expect(c.Title).To(Equal("What is the capital of France ..."))
		})

		It("keeps short first messages whole", func() {
			c := chat.New("llama3", "", "", now)
			c.Append(llm.Message{Role: llm.RoleUser, Content: "hi"}, now)
			Expect(c.Title).To(Equal("hi"))
		})
	})

	Describe("Request", func() {
		It("puts the system prompt first and strips timestamps", func() {
			c := chat.New("llama3", "", "be terse", now)
			c.Append(llm.Message{Role: llm.RoleUser, Content: "hi"}, now)
			c.Append(llm.Message{Role: llm.RoleAssistant, Content: "hello"}, now)

			opts := &llm.Options{Temperature: llm.Float(0.7)}
			req := c.Request(opts)

			Expect(req.Model).To(Equal("llama3"))
			Expect(req.Options).To(BeIdenticalTo(opts))
			Expect(req.Messages).To(HaveLen(3))
			Expect(req.Messages[0]).To(Equal(llm.Message{Role: llm.RoleSystem, Content: "be terse"}))
			Expect(req.Messages[1].Timestamp).To(BeNil())
			Expect(req.Validate()).To(Succeed())
		})

		It("omits an empty system prompt", func() {
			c := chat.New("llama3", "", "", now)
			c.Append(llm.Message{Role: llm.RoleUser, Content: "hi"}, now)

			Expect(c.Request(nil).Messages).To(HaveLen(1))
		})
	})

	Describe("Clone", func() {
		It("does not share the message slice", func() {
			c := chat.New("llama3", "", "", now)
			c.Append(llm.Message{Role: llm.RoleUser, Content: "hi"}, now)

			clone := c.Clone()
			clone.Append(llm.Message{Role: llm.RoleAssistant, Content: "hello"}, now)

			Expect(c.Messages).To(HaveLen(1))
			Expect(clone.Messages).To(HaveLen(2))
		})
	})

	Describe("Previews", func() {
		It("summarises and sorts newest first", func() {
			older := chat.New("llama3", "older", "", now)
			newer := chat.New("mistral", "newer", "", now)
			newer.Append(llm.Message{Role: llm.RoleAssistant, Content: strings.Repeat("x", 60)}, now.Add(time.Hour))

			previews := chat.Previews([]*chat.Chat{older, newer})

			Expect(previews).To(HaveLen(2))
			Expect(previews[0].ID).To(Equal(newer.ID))
			Expect(previews[0].LastMessage).To(Equal(strings.Repeat("x", 50) + "..."))
			Expect(previews[0].Model).To(Equal("mistral"))
			Expect(previews[1].LastMessage).To(Equal(chat.NoMessages))
		})
	})
})

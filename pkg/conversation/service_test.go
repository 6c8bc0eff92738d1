package conversation_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NurRobin/ollama-chat/pkg/conversation"
	"github.com/NurRobin/ollama-chat/pkg/llm"
	"github.com/NurRobin/ollama-chat/pkg/ollama"
	"github.com/NurRobin/ollama-chat/pkg/ollama/ollamatest"
	"github.com/NurRobin/ollama-chat/pkg/storage"
	"github.com/NurRobin/ollama-chat/pkg/storage/inmemory"
)

// heldStreamer sends one fragment and then holds the reply open until its
// context is cancelled or release is closed.
type heldStreamer struct {
	started chan string
	release chan struct{}
}

func newHeldStreamer() *heldStreamer {
	return &heldStreamer{started: make(chan string, 8), release: make(chan struct{})}
}

func (h *heldStreamer) StreamChat(ctx context.Context, req *llm.ChatRequest, onChunk, onComplete func(string)) error {
	last := req.Messages[len(req.Messages)-1].Content
	if onChunk != nil {
		onChunk("thinking about " + last)
	}
	h.started <- last

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-h.release:
		onComplete("answer to " + last)
		return nil
	}
}

var _ = Describe("Service", func() {
	var (
		ctx     context.Context
		srv     *ollamatest.Server
		store   *inmemory.Driver
		service *conversation.Service
		clock   time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		srv = ollamatest.NewServer()
		store = inmemory.NewDriver()
		clock = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

		service = conversation.New(store, ollama.New(srv.URL),
			conversation.WithClock(func() time.Time {
				clock = clock.Add(time.Second)
				return clock
			}),
		)
	})

	AfterEach(func() {
		Expect(service.Close()).To(Succeed())
		srv.Close()
	})

	Describe("CreateChat", func() {
		It("stores an empty chat", func() {
			c, err := service.CreateChat(ctx, "llama3", "", "be brief")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Title).To(Equal("New Chat 12:00:01"))

			got, err := service.GetChat(ctx, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.SystemPrompt).To(Equal("be brief"))
			Expect(got.Messages).To(BeEmpty())
		})

		It("requires a model", func() {
			_, err := service.CreateChat(ctx, "", "t", "")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Send", func() {
		var chatID string

		BeforeEach(func() {
			c, err := service.CreateChat(ctx, "llama3", "", "You are helpful.")
			Expect(err).NotTo(HaveOccurred())
			chatID = c.ID
		})

		It("streams the reply and stores both turns", func() {
			var chunks []string
			c, err := service.Send(ctx, chatID, "Hi", func(s string) { chunks = append(chunks, s) })
			Expect(err).NotTo(HaveOccurred())
			Expect(chunks).To(Equal([]string{"Hel", "lo!", ""}))

			Expect(c.Title).To(Equal("Hi"))
			Expect(c.Messages).To(HaveLen(2))
			Expect(c.Messages[0].Role).To(Equal(llm.RoleUser))
			Expect(c.Messages[1].Role).To(Equal(llm.RoleAssistant))
			Expect(c.Messages[1].Content).To(Equal("Hello!"))
			Expect(c.Messages[1].Timestamp).NotTo(BeNil())
			Expect(c.UpdatedAt).To(Equal(*c.Messages[1].Timestamp))

			stored, err := service.GetChat(ctx, chatID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Messages).To(HaveLen(2))
		})

		It("sends the system prompt first, then the history, with default options", func() {
			_, err := service.Send(ctx, chatID, "Hi", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = service.Send(ctx, chatID, "And again", nil)
			Expect(err).NotTo(HaveOccurred())

			sent := srv.ChatRequests()
			Expect(sent).To(HaveLen(2))

			req := sent[1]
			Expect(req.Model).To(Equal("llama3"))
			Expect(*req.Stream).To(BeTrue())
			Expect(req.Messages).To(HaveLen(4))
			Expect(req.Messages[0]).To(Equal(llm.Message{Role: llm.RoleSystem, Content: "You are helpful."}))
			Expect(req.Messages[1].Content).To(Equal("Hi"))
			Expect(req.Messages[2].Content).To(Equal("Hello!"))
			Expect(req.Messages[3].Content).To(Equal("And again"))
			Expect(req.Messages[3].Timestamp).To(BeNil())
			Expect(*req.Options.Temperature).To(Equal(0.7))
			Expect(*req.Options.TopP).To(Equal(0.9))
		})

		It("uses options set later", func() {
			service.SetOptions(llm.Options{Temperature: llm.Float(0.2), NumCtx: llm.Int(4096)})

			_, err := service.Send(ctx, chatID, "Hi", nil)
			Expect(err).NotTo(HaveOccurred())

			req := srv.ChatRequests()[0]
			Expect(*req.Options.Temperature).To(Equal(0.2))
			Expect(req.Options.TopP).To(BeNil())
			Expect(*req.Options.NumCtx).To(Equal(4096))
		})

		It("rejects blank messages", func() {
			_, err := service.Send(ctx, chatID, "  \n", nil)
			Expect(err).To(MatchError(conversation.ErrEmptyMessage))
			Expect(srv.ChatRequests()).To(BeEmpty())
		})

		It("fails for an unknown chat", func() {
			_, err := service.Send(ctx, "chat-missing", "Hi", nil)
			var notFound storage.ErrNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})

		It("keeps only the user message when the endpoint fails", func() {
			srv.FailWith(http.StatusInternalServerError)

			_, err := service.Send(ctx, chatID, "Hi", nil)
			var endpointErr *ollama.EndpointError
			Expect(errors.As(err, &endpointErr)).To(BeTrue())

			stored, err := service.GetChat(ctx, chatID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Messages).To(HaveLen(1))
			Expect(stored.Messages[0].Role).To(Equal(llm.RoleUser))
			Expect(service.InFlight(chatID)).To(BeFalse())
		})
	})

	Context("with replies held open", func() {
		var (
			held   *heldStreamer
			chatID string
		)

		BeforeEach(func() {
			held = newHeldStreamer()
			service = conversation.New(inmemory.NewDriver(), held)

			c, err := service.CreateChat(ctx, "llama3", "", "")
			Expect(err).NotTo(HaveOccurred())
			chatID = c.ID
		})

		send := func(text string) (<-chan error, *sync.WaitGroup) {
			errs := make(chan error, 1)
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := service.Send(ctx, chatID, text, nil)
				errs <- err
			}()
			return errs, &wg
		}

		It("supersedes the reply in flight", func() {
			first, _ := send("one")
			Eventually(held.started).Should(Receive(Equal("one")))
			Expect(service.InFlight(chatID)).To(BeTrue())

			second, _ := send("two")
			Eventually(first).Should(Receive(MatchError(conversation.ErrSuperseded)))
			Eventually(held.started).Should(Receive(Equal("two")))

			close(held.release)
			Eventually(second).Should(Receive(BeNil()))

			stored, err := service.GetChat(ctx, chatID)
			Expect(err).NotTo(HaveOccurred())

			var contents []string
			for _, m := range stored.Messages {
				contents = append(contents, m.Content)
			}
			Expect(contents).To(Equal([]string{"one", "two", "answer to two"}))
			Expect(service.InFlight(chatID)).To(BeFalse())
		})

		It("cancels on request", func() {
			errs, _ := send("one")
			Eventually(held.started).Should(Receive())

			Expect(service.Cancel(chatID)).To(BeTrue())
			Eventually(errs).Should(Receive(MatchError(context.Canceled)))
			Expect(service.Cancel(chatID)).To(BeFalse())

			stored, err := service.GetChat(ctx, chatID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Messages).To(HaveLen(1))
		})

		It("cancels the reply of a deleted chat", func() {
			errs, _ := send("one")
			Eventually(held.started).Should(Receive())

			Expect(service.DeleteChat(ctx, chatID)).To(Succeed())
			Eventually(errs).Should(Receive(MatchError(conversation.ErrChatDeleted)))

			_, err := service.GetChat(ctx, chatID)
			Expect(err).To(MatchError(storage.ErrNotFound{ID: chatID}))
		})

		It("cancels replies on close and refuses new ones", func() {
			errs, _ := send("one")
			Eventually(held.started).Should(Receive())

			Expect(service.Close()).To(Succeed())
			Eventually(errs).Should(Receive(MatchError(conversation.ErrClosed)))

			_, err := service.Send(ctx, chatID, "two", nil)
			Expect(err).To(MatchError(conversation.ErrClosed))

			// AfterEach closes again.
			service = conversation.New(inmemory.NewDriver(), held)
		})
	})

	Describe("ListChats", func() {
		It("returns previews, most recently updated first", func() {
			older, err := service.CreateChat(ctx, "llama3", "older", "")
			Expect(err).NotTo(HaveOccurred())
			newer, err := service.CreateChat(ctx, "mistral", "newer", "")
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Send(ctx, older.ID, "Bump", nil)
			Expect(err).NotTo(HaveOccurred())

			previews, err := service.ListChats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(previews).To(HaveLen(2))
			Expect(previews[0].ID).To(Equal(older.ID))
			Expect(previews[0].LastMessage).To(Equal("Hello!"))
			Expect(previews[1].ID).To(Equal(newer.ID))
			Expect(previews[1].LastMessage).To(Equal("No messages yet"))
		})
	})
})

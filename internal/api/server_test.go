package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/helios/helios/internal/api"
	"github.com/helios/helios/internal/knowledge"
	"github.com/helios/helios/internal/service"
	"github.com/helios/helios/internal/store"
	"github.com/helios/helios/internal/workflow"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var _ = Describe("Server", func() {
	var (
		tmpDir string
		st     *store.Store
		ks     *knowledge.Store
		engine *httptest.Server
		server *api.Server
		chatUp atomic.Bool
	)

	send := func(procedure, userID, contentType, body string) (int, rpcResponse) {
		req := httptest.NewRequest(http.MethodPost, "/rpc/"+procedure, strings.NewReader(body))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if userID != "" {
			req.Header.Set(api.HeaderUserID, userID)
			req.Header.Set(api.HeaderUserName, "User "+userID)
		}

		resp, err := server.Test(req, -1)
		Expect(err).ToNot(HaveOccurred())
		defer resp.Body.Close()

		var out rpcResponse
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		return resp.StatusCode, out
	}

	call := func(procedure, userID string, input any) (int, rpcResponse) {
		body := ""
		if input != nil {
			data, err := json.Marshal(input)
			Expect(err).ToNot(HaveOccurred())
			body = string(data)
		}
		return send(procedure, userID, "application/json", body)
	}

	decode := func(raw json.RawMessage, v any) {
		Expect(json.Unmarshal(raw, v)).To(Succeed())
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "helios_api_test_*")
		Expect(err).ToNot(HaveOccurred())

		st, err = store.Open(context.Background(), filepath.Join(tmpDir, "helios.db"), 5*time.Second)
		Expect(err).ToNot(HaveOccurred())

		ks, err = knowledge.Open("")
		Expect(err).ToNot(HaveOccurred())

		chatUp.Store(true)
		engine = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/chat":
				if !chatUp.Load() {
					w.WriteHeader(http.StatusBadGateway)
					return
				}
				w.Write([]byte(`{"response": "engine reply"}`))
			case "/task":
				w.Write([]byte(`{"executionId": "exec-1"}`))
			case "/knowledge":
				w.Write([]byte(`[{"indexed": true}]`))
			}
		}))

		client := workflow.NewClient(&workflow.Config{
			ChatURL:      engine.URL + "/chat",
			TaskURL:      engine.URL + "/task",
			KnowledgeURL: engine.URL + "/knowledge",
			Timeout:      5 * time.Second,
		}, workflow.WithAuditor(st))

		svc := service.New(st, client,
			service.WithOwner("owner"),
			service.WithIngestor(knowledge.NewIngestor(ks, client, nil, knowledge.WithDocumentCheck(st.DocumentExists)), false),
		)
		server = api.NewServer(svc)
	})

	AfterEach(func() {
		engine.Close()
		ks.Close()
		st.Close()
		os.RemoveAll(tmpDir)
	})

	It("reports health", func() {
		resp, err := server.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	Describe("identity", func() {
		It("rejects protected procedures without a caller", func() {
			status, out := call("conversations.list", "", nil)
			Expect(status).To(Equal(http.StatusUnauthorized))
			Expect(out.Error.Code).To(Equal("UNAUTHORIZED"))
		})

		It("returns null from auth.me for anonymous callers", func() {
			status, out := call("auth.me", "", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(string(out.Result)).To(Equal("null"))
		})

		It("records the caller and grants the owner admin", func() {
			_, out := call("auth.me", "owner", nil)
			var user struct {
				ID   string `json:"id"`
				Name string `json:"name"`
				Role string `json:"role"`
			}
			decode(out.Result, &user)
			Expect(user.ID).To(Equal("owner"))
			Expect(user.Name).To(Equal("User owner"))
			Expect(user.Role).To(Equal("admin"))

			_, out = call("auth.me", "u1", nil)
			decode(out.Result, &user)
			Expect(user.Role).To(Equal("user"))
		})

		It("serves the public catalogue anonymously", func() {
			status, out := call("agents.public", "", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(string(out.Result)).To(Equal("[]"))
		})
	})

	Describe("request bodies", func() {
		It("rejects malformed JSON", func() {
			status, out := send("conversations.create", "u1", "application/json", `{"title": `)
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(out.Error.Code).To(Equal("BAD_REQUEST"))
		})

		It("reads a body sent without a content type as JSON", func() {
			status, out := send("conversations.create", "u1", "", `{"title": "untyped"}`)
			Expect(status).To(Equal(http.StatusOK))
			var conv struct {
				Title string `json:"title"`
			}
			decode(out.Result, &conv)
			Expect(conv.Title).To(Equal("untyped"))
		})
	})

	Describe("messages.send", func() {
		It("creates a conversation and both messages", func() {
			status, out := call("messages.send", "u1", map[string]string{"content": "hello there"})
			Expect(status).To(Equal(http.StatusOK))

			var res struct {
				ConversationID   string `json:"conversationId"`
				AssistantMessage struct {
					Content string `json:"content"`
				} `json:"assistantMessage"`
			}
			decode(out.Result, &res)
			Expect(res.ConversationID).To(HavePrefix("conv_"))
			Expect(res.AssistantMessage.Content).To(Equal("engine reply"))

			_, out = call("messages.list", "u1", map[string]string{"conversationId": res.ConversationID})
			var msgs []map[string]any
			decode(out.Result, &msgs)
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0]["role"]).To(Equal("user"))
			Expect(msgs[1]["role"]).To(Equal("assistant"))
		})

		It("falls back when the engine fails", func() {
			chatUp.Store(false)
			_, out := call("messages.send", "u1", map[string]string{"content": "hello"})
			var res struct {
				AssistantMessage struct {
					Content string `json:"content"`
				} `json:"assistantMessage"`
			}
			decode(out.Result, &res)
			Expect(workflow.IsFallback(res.AssistantMessage.Content)).To(BeTrue())

			calls, err := st.QueryWebhookCalls(context.Background(), nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].StatusCode).To(Equal(http.StatusBadGateway))
		})

		It("rejects empty content", func() {
			status, out := call("messages.send", "u1", map[string]string{"content": ""})
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(out.Error.Code).To(Equal("BAD_REQUEST"))
		})

		It("rejects sends to archived conversations", func() {
			_, out := call("conversations.create", "u1", map[string]string{"title": "old"})
			var conv struct {
				ID string `json:"id"`
			}
			decode(out.Result, &conv)

			status, _ := call("conversations.archive", "u1", map[string]string{"id": conv.ID})
			Expect(status).To(Equal(http.StatusOK))
			status, _ = call("conversations.archive", "u1", map[string]string{"id": conv.ID})
			Expect(status).To(Equal(http.StatusOK))

			status, out = call("messages.send", "u1", map[string]string{"conversationId": conv.ID, "content": "hi"})
			Expect(status).To(Equal(http.StatusConflict))
			Expect(out.Error.Code).To(Equal("CONFLICT"))
		})
	})

	Describe("tasks", func() {
		It("dispatches and completes a task", func() {
			_, out := call("tasks.create", "u1", map[string]string{"taskType": "research", "input": "go"})
			var task struct {
				ID                  string `json:"id"`
				Status              string `json:"status"`
				ExternalExecutionID string `json:"externalExecutionId"`
			}
			decode(out.Result, &task)
			Expect(task.Status).To(Equal("pending"))

			_, out = call("tasks.dispatch", "u1", map[string]string{"id": task.ID})
			decode(out.Result, &task)
			Expect(task.Status).To(Equal("processing"))
			Expect(task.ExternalExecutionID).To(Equal("exec-1"))

			status, _ := call("tasks.report", "u1", map[string]string{"id": task.ID, "status": "pending"})
			Expect(status).To(Equal(http.StatusConflict))

			status, out = call("tasks.report", "u1", map[string]string{"id": task.ID, "status": "completed", "output": "ok"})
			Expect(status).To(Equal(http.StatusOK))
			decode(out.Result, &task)
			Expect(task.Status).To(Equal("completed"))
		})

		It("hides other users' tasks from reports", func() {
			_, out := call("tasks.create", "u1", map[string]string{"taskType": "research", "input": "secret"})
			var task struct {
				ID           string `json:"id"`
				Status       string `json:"status"`
				Input        string `json:"input"`
				ErrorMessage string `json:"errorMessage"`
			}
			decode(out.Result, &task)

			status, out := call("tasks.report", "u2", map[string]string{"id": task.ID, "status": "failed", "errorMessage": "overwritten"})
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(out.Error.Code).To(Equal("NOT_FOUND"))
			Expect(string(out.Result)).ToNot(ContainSubstring("secret"))

			_, out = call("tasks.get", "u1", map[string]string{"id": task.ID})
			decode(out.Result, &task)
			Expect(task.Status).To(Equal("pending"))
			Expect(task.ErrorMessage).To(BeEmpty())

			status, _ = call("tasks.report", "owner", map[string]string{"id": task.ID, "status": "failed", "errorMessage": "cancelled"})
			Expect(status).To(Equal(http.StatusOK))
		})

		It("returns 404 for missing tasks", func() {
			status, out := call("tasks.get", "u1", map[string]string{"id": "task_missing"})
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(out.Error.Code).To(Equal("NOT_FOUND"))
		})

		It("requires an id", func() {
			status, _ := call("tasks.get", "u1", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("documents", func() {
		It("ingests on demand and deletes idempotently", func() {
			_, out := call("documents.create", "u1", map[string]string{"title": "Notes", "content": "text"})
			var doc struct {
				ID string `json:"id"`
			}
			decode(out.Result, &doc)

			status, _ := call("documents.ingestion", "u1", map[string]string{"id": doc.ID})
			Expect(status).To(Equal(http.StatusNotFound))

			status, out = call("documents.ingest", "u1", map[string]string{"id": doc.ID})
			Expect(status).To(Equal(http.StatusOK))
			var result struct {
				Success bool `json:"success"`
			}
			decode(out.Result, &result)
			Expect(result.Success).To(BeTrue())

			status, _ = call("documents.ingestion", "u1", map[string]string{"id": doc.ID})
			Expect(status).To(Equal(http.StatusOK))

			_, out = call("documents.ingestions", "u1", nil)
			var listed []struct {
				DocumentID string `json:"documentId"`
			}
			decode(out.Result, &listed)
			Expect(listed).To(HaveLen(1))
			Expect(listed[0].DocumentID).To(Equal(doc.ID))

			_, out = call("documents.ingestions", "u2", nil)
			Expect(string(out.Result)).To(Equal("[]"))

			status, _ = call("documents.delete", "u1", map[string]string{"id": doc.ID})
			Expect(status).To(Equal(http.StatusOK))
			status, _ = call("documents.delete", "u1", map[string]string{"id": doc.ID})
			Expect(status).To(Equal(http.StatusOK))
			status, _ = call("documents.get", "u1", map[string]string{"id": doc.ID})
			Expect(status).To(Equal(http.StatusNotFound))
		})
	})

	Describe("agents", func() {
		It("remixes into a private copy", func() {
			_, out := call("agents.create", "u1", map[string]string{"name": "Scout", "agentType": "research", "isPublic": "yes"})
			var agent struct {
				ID         string `json:"id"`
				Name       string `json:"name"`
				UserID     string `json:"userId"`
				IsPublic   string `json:"isPublic"`
				RemixCount int64  `json:"remixCount"`
			}
			decode(out.Result, &agent)
			sourceID := agent.ID

			_, out = call("agents.remix", "u2", map[string]string{"agentId": sourceID})
			decode(out.Result, &agent)
			Expect(agent.Name).To(Equal("Scout (Remix)"))
			Expect(agent.UserID).To(Equal("u2"))
			Expect(agent.IsPublic).To(Equal("no"))

			_, out = call("agents.get", "u2", map[string]string{"id": sourceID})
			decode(out.Result, &agent)
			Expect(agent.RemixCount).To(Equal(int64(1)))

			status, _ := call("agents.remix", "u2", map[string]string{"agentId": "agent_missing"})
			Expect(status).To(Equal(http.StatusNotFound))
		})
	})

	Describe("credits", func() {
		It("materialises the default balance once", func() {
			_, out := call("credits.get", "u1", nil)
			var credit struct {
				Credits int64 `json:"credits"`
			}
			decode(out.Result, &credit)
			Expect(credit.Credits).To(Equal(int64(1000)))

			call("credits.get", "u1", nil)
			n, err := st.CountCredits(context.Background(), "u1")
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(1))
		})
	})

	Describe("system", func() {
		It("restricts webhook stats to admins", func() {
			status, _ := call("system.webhookStats", "u1", nil)
			Expect(status).To(Equal(http.StatusForbidden))

			status, _ = call("system.webhookStats", "owner", nil)
			Expect(status).To(Equal(http.StatusOK))
		})

		It("filters the webhook audit log", func() {
			call("messages.send", "u1", map[string]string{"content": "hello"})
			chatUp.Store(false)
			call("messages.send", "u2", map[string]string{"content": "hello"})

			status, _ := call("system.webhookCalls", "u1", nil)
			Expect(status).To(Equal(http.StatusForbidden))

			var calls []map[string]any
			_, out := call("system.webhookCalls", "owner", map[string]any{"userId": "u2"})
			decode(out.Result, &calls)
			Expect(calls).To(HaveLen(1))

			_, out = call("system.webhookCalls", "owner", map[string]any{"success": true})
			decode(out.Result, &calls)
			Expect(calls).To(HaveLen(1))

			_, out = call("system.webhookCalls", "owner", map[string]any{"since": time.Now().Add(time.Hour)})
			decode(out.Result, &calls)
			Expect(calls).To(BeEmpty())

			_, out = call("system.webhookCalls", "owner", map[string]any{"limit": 1, "offset": 1})
			decode(out.Result, &calls)
			Expect(calls).To(HaveLen(1))
		})

		It("reports workflow throttling to admins", func() {
			status, _ := call("system.workflowStatus", "u1", nil)
			Expect(status).To(Equal(http.StatusForbidden))

			status, out := call("system.workflowStatus", "owner", nil)
			Expect(status).To(Equal(http.StatusOK))
			var res struct {
				RateLimits map[string]struct {
					Limit int `json:"limit"`
				} `json:"rateLimits"`
			}
			decode(out.Result, &res)
			Expect(res.RateLimits).To(HaveLen(3))
			Expect(res.RateLimits["chat"].Limit).To(Equal(-1))
		})
	})

	It("returns 404 for unknown procedures", func() {
		status, out := call("nope.nothing", "u1", nil)
		Expect(status).To(Equal(http.StatusNotFound))
		Expect(out.Error.Code).To(Equal("NOT_FOUND"))
	})
})

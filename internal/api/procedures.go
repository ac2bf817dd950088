package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/helios/helios/internal/models"
	"github.com/helios/helios/internal/service"
)

type (
	idInput struct {
		ID string `json:"id"`
	}

	listConversationsInput struct {
		Status models.ConversationStatus `json:"status"`
	}

	createConversationInput struct {
		Title     string `json:"title"`
		AgentType string `json:"agentType"`
	}

	listMessagesInput struct {
		ConversationID string `json:"conversationId"`
	}

	sendMessageInput struct {
		ConversationID string `json:"conversationId"`
		Content        string `json:"content"`
	}

	createTaskInput struct {
		TaskType       string `json:"taskType"`
		Input          string `json:"input"`
		ConversationID string `json:"conversationId"`
	}

	reportTaskInput struct {
		ID           string            `json:"id"`
		Status       models.TaskStatus `json:"status"`
		Output       string            `json:"output"`
		ErrorMessage string            `json:"errorMessage"`
		ExecutionID  string            `json:"executionId"`
	}

	createDocumentInput struct {
		Title    string `json:"title"`
		Content  string `json:"content"`
		FileURL  string `json:"fileUrl"`
		MimeType string `json:"mimeType"`
		Size     string `json:"size"`
	}

	createAgentInput struct {
		Name          string            `json:"name"`
		Description   string            `json:"description"`
		AgentType     string            `json:"agentType"`
		Configuration string            `json:"configuration"`
		IsPublic      models.Visibility `json:"isPublic"`
	}

	remixAgentInput struct {
		AgentID string `json:"agentId"`
	}

	webhookStatsInput struct {
		Since time.Time `json:"since"`
	}

	webhookCallsInput struct {
		Webhook models.Webhook `json:"webhook"`
		UserID  string         `json:"userId"`
		Success *bool          `json:"success"`
		Since   time.Time      `json:"since"`
		Until   time.Time      `json:"until"`
		Limit   int            `json:"limit"`
		Offset  int            `json:"offset"`
	}
)

// bind decodes the JSON body into in. An empty body leaves in unchanged.
func bind(c *fiber.Ctx, in any) error {
	if len(strings.TrimSpace(string(c.Body()))) == 0 {
		return nil
	}
	// procedures only speak JSON, so a bare POST is read as such
	if len(c.Request().Header.ContentType()) == 0 {
		c.Request().Header.SetContentType(fiber.MIMEApplicationJSON)
	}
	if err := c.BodyParser(in); err != nil {
		return invalidInput("malformed JSON body: " + err.Error())
	}
	return nil
}

func invalidInput(msg string) error {
	return &inputError{msg: msg}
}

type inputError struct{ msg string }

func (e *inputError) Error() string { return service.ErrValidation.Error() + ": " + e.msg }
func (e *inputError) Unwrap() error { return service.ErrValidation }

func requireID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalidInput(field + " is required")
	}
	return nil
}

// bindID decodes an {"id": ...} input and checks it is present
func bindID(c *fiber.Ctx) (string, error) {
	var in idInput
	if err := bind(c, &in); err != nil {
		return "", err
	}
	return in.ID, requireID("id", in.ID)
}

func (s *Server) registerProcedures() {
	// auth
	s.handlePublic("auth.me", func(c *fiber.Ctx, user *models.User) (any, error) {
		if user == nil {
			return nil, nil
		}
		return user, nil
	})

	// conversations
	s.handle("conversations.list", func(c *fiber.Ctx, user *models.User) (any, error) {
		var in listConversationsInput
		if err := bind(c, &in); err != nil {
			return nil, err
		}
		return s.svc.ListConversations(c.UserContext(), user.ID, in.Status)
	})
	s.handle("conversations.get", func(c *fiber.Ctx, user *models.User) (any, error) {
		id, err := bindID(c)
		if err != nil {
			return nil, err
		}
		return s.svc.GetConversation(c.UserContext(), user.ID, id)
	})
	s.handle("conversations.create", func(c *fiber.Ctx, user *models.User) (any, error) {
		var in createConversationInput
		if err := bind(c, &in); err != nil {
			return nil, err
		}
		return s.svc.CreateConversation(c.UserContext(), user.ID, in.Title, in.AgentType)
	})
	s.handle("conversations.archive", func(c *fiber.Ctx, user *models.User) (any, error) {
		id, err := bindID(c)
		if err != nil {
			return nil, err
		}
		if _, err := s.svc.ArchiveConversation(c.UserContext(), user.ID, id); err != nil {
			return nil, err
		}
		return fiber.Map{"success": true}, nil
	})

	// messages
	s.handle("messages.list", func(c *fiber.Ctx, user *models.User) (any, error) {
		var in listMessagesInput
		if err := bind(c, &in); err != nil {
			return nil, err
		}
		if err := requireID("conversationId", in.ConversationID); err != nil {
			return nil, err
		}
		return s.svc.ListMessages(c.UserContext(), user.ID, in.ConversationID)
	})
	s.handle("messages.send", func(c *fiber.Ctx, user *models.User) (any, error) {
		var in sendMessageInput
		if err := bind(c, &in); err != nil {
			return nil, err
		}
		return s.svc.SendMessage(c.UserContext(), user.ID, in.ConversationID, in.Content)
	})

	// tasks
	s.handle("tasks.list", func(c *fiber.Ctx, user *models.User) (any, error) {
		return s.svc.ListTasks(c.UserContext(), user.ID)
	})
	s.handle("tasks.get", func(c *fiber.Ctx, user *models.User) (any, error) {
		id, err := bindID(c)
		if err != nil {
			return nil, err
		}
		return s.svc.GetTask(c.UserContext(), user.ID, id)
	})
	s.handle("tasks.create", func(c *fiber.Ctx, user *models.User) (any, error) {
		var in createTaskInput
		if err := bind(c, &in); err != nil {
			return nil, err
		}
		return s.svc.CreateTask(c.UserContext(), user.ID, in.TaskType, in.Input, in.ConversationID)
	})
	s.handle("tasks.dispatch", func(c *fiber.Ctx, user *models.User) (any, error) {
		id, err := bindID(c)
		if err != nil {
			return nil, err
		}
		return s.svc.DispatchTask(c.UserContext(), user.ID, id)
	})
	s.handle("tasks.report", func(c *fiber.Ctx, user *models.User) (any, error) {
		var in reportTaskInput
		if err := bind(c, &in); err != nil {
			return nil, err
		}
		if err := requireID("id", in.ID); err != nil {
			return nil, err
		}
		return s.svc.ReportTask(c.UserContext(), user, in.ID, service.TaskReport{
			Status:       in.Status,
			Output:       in.Output,
			ErrorMessage: in.ErrorMessage,
			ExecutionID:  in.ExecutionID,
		})
	})

	// documents
	s.handle("documents.list", func(c *fiber.Ctx, user *models.User) (any, error) {
		return s.svc.ListDocuments(c.UserContext(), user.ID)
	})
	s.handle("documents.get", func(c *fiber.Ctx, user *models.User) (any, error) {
		id, err := bindID(c)
		if err != nil {
			return nil, err
		}
		return s.svc.GetDocument(c.UserContext(), user.ID, id)
	})
	s.handle("documents.create", func(c *fiber.Ctx, user *models.User) (any, error) {
		var in createDocumentInput
		if err := bind(c, &in); err != nil {
			return nil, err
		}
		return s.svc.CreateDocument(c.UserContext(), user.ID, service.DocumentInput{
			Title:    in.Title,
			Content:  in.Content,
			FileURL:  in.FileURL,
			MimeType: in.MimeType,
			Size:     in.Size,
		})
	})
	s.handle("documents.delete", func(c *fiber.Ctx, user *models.User) (any, error) {
		id, err := bindID(c)
		if err != nil {
			return nil, err
		}
		if err := s.svc.DeleteDocument(c.UserContext(), user.ID, id); err != nil {
			return nil, err
		}
		return fiber.Map{"success": true}, nil
	})
	s.handle("documents.ingest", func(c *fiber.Ctx, user *models.User) (any, error) {
		id, err := bindID(c)
		if err != nil {
			return nil, err
		}
		return s.svc.IngestDocument(c.UserContext(), user.ID, id)
	})
	s.handle("documents.ingestion", func(c *fiber.Ctx, user *models.User) (any, error) {
		id, err := bindID(c)
		if err != nil {
			return nil, err
		}
		return s.svc.DocumentIngestion(c.UserContext(), user.ID, id)
	})
	s.handle("documents.ingestions", func(c *fiber.Ctx, user *models.User) (any, error) {
		return s.svc.ListIngestions(c.UserContext(), user.ID)
	})

	// agents
	mine := func(c *fiber.Ctx, user *models.User) (any, error) {
		return s.svc.MyAgents(c.UserContext(), user.ID)
	}
	public := func(c *fiber.Ctx, user *models.User) (any, error) {
		return s.svc.PublicAgents(c.UserContext())
	}
	s.handle("agents.mine", mine)
	s.handle("agents.myAgents", mine)
	s.handlePublic("agents.public", public)
	s.handlePublic("agents.publicAgents", public)
	s.handle("agents.get", func(c *fiber.Ctx, user *models.User) (any, error) {
		id, err := bindID(c)
		if err != nil {
			return nil, err
		}
		return s.svc.GetAgent(c.UserContext(), user.ID, id)
	})
	s.handle("agents.create", func(c *fiber.Ctx, user *models.User) (any, error) {
		var in createAgentInput
		if err := bind(c, &in); err != nil {
			return nil, err
		}
		return s.svc.CreateAgent(c.UserContext(), user.ID, service.AgentInput{
			Name:          in.Name,
			Description:   in.Description,
			AgentType:     in.AgentType,
			Configuration: in.Configuration,
			IsPublic:      in.IsPublic,
		})
	})
	s.handle("agents.remix", func(c *fiber.Ctx, user *models.User) (any, error) {
		var in remixAgentInput
		if err := bind(c, &in); err != nil {
			return nil, err
		}
		if err := requireID("agentId", in.AgentID); err != nil {
			return nil, err
		}
		return s.svc.RemixAgent(c.UserContext(), user.ID, in.AgentID)
	})
	s.handle("agents.lineage", func(c *fiber.Ctx, user *models.User) (any, error) {
		id, err := bindID(c)
		if err != nil {
			return nil, err
		}
		return s.svc.AgentLineage(c.UserContext(), user.ID, id)
	})

	// credits
	s.handle("credits.get", func(c *fiber.Ctx, user *models.User) (any, error) {
		return s.svc.Credits(c.UserContext(), user.ID)
	})

	// system
	s.handle("system.webhookStats", func(c *fiber.Ctx, user *models.User) (any, error) {
		in := webhookStatsInput{Since: time.Now().Add(-24 * time.Hour)}
		if err := bind(c, &in); err != nil {
			return nil, err
		}
		return s.svc.WebhookStats(c.UserContext(), user, in.Since)
	})
	s.handle("system.webhookCalls", func(c *fiber.Ctx, user *models.User) (any, error) {
		var in webhookCallsInput
		if err := bind(c, &in); err != nil {
			return nil, err
		}
		return s.svc.WebhookCalls(c.UserContext(), user, service.CallQuery{
			Webhook: in.Webhook,
			UserID:  in.UserID,
			Success: in.Success,
			Since:   in.Since,
			Until:   in.Until,
			Limit:   in.Limit,
			Offset:  in.Offset,
		})
	})
	s.handle("system.workflowStatus", func(c *fiber.Ctx, user *models.User) (any, error) {
		return s.svc.WorkflowStatus(c.UserContext(), user)
	})
}

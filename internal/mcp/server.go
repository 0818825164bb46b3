// Package mcp exposes the chat backend as MCP tools, over stdio or SSE.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/fablehost/fable/internal/db"
	"github.com/fablehost/fable/internal/models"
	"github.com/fablehost/fable/internal/pipeline"
)

// Server implements the MCP tool surface.
type Server struct {
	store     *db.Store
	generator *pipeline.Generator
	log       *zap.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server
func NewServer(store *db.Store, generator *pipeline.Generator, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		store:     store,
		generator: generator,
		log:       log,
	}

	// Create MCP server with tools
	s.mcpServer = server.NewMCPServer(
		"Fable Chat Backend",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	// Register tools
	s.registerTools()

	return s
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	// list_agents tool
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_agents",
		Description: "List a user's configured chat agents",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User whose agents to list",
				},
			},
			Required: []string{"user_id"},
		},
	}, s.handleListAgents)

	// send_message tool
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "send_message",
		Description: "Append a user message to a conversation topic without generating a reply",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User sending the message",
				},
				"topic_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation topic to append to",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Message text",
				},
			},
			Required: []string{"user_id", "topic_id", "content"},
		},
	}, s.handleSendMessage)

	// generate_reply tool
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "generate_reply",
		Description: "Generate the agent's reply for a topic and persist it. Blocks until generation finishes.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User requesting the reply",
				},
				"topic_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation topic to generate into",
				},
			},
			Required: []string{"user_id", "topic_id"},
		},
	}, s.handleGenerateReply)

	// get_history tool
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_history",
		Description: "Retrieve a topic's visible messages in chronological order",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User requesting the history",
				},
				"topic_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation topic to read",
				},
			},
			Required: []string{"user_id", "topic_id"},
		},
	}, s.handleGetHistory)

	// get_status tool
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_status",
		Description: "Health check for the chat backend",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
			Required:   []string{},
		},
	}, s.handleGetStatus)
}

// Tool handlers

// parseParams converts MCP request arguments to a struct
func parseParams(args interface{}, target interface{}) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

func (s *Server) handleListAgents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params struct {
		UserID string `json:"user_id"`
	}
	if err := parseParams(request.Params.Arguments, &params); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if params.UserID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	agents, err := s.store.ListAgents(ctx, params.UserID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list agents: %v", err)), nil
	}

	result, _ := json.Marshal(agents)
	return mcp.NewToolResultText(string(result)), nil
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params struct {
		UserID  string `json:"user_id"`
		TopicID string `json:"topic_id"`
		Content string `json:"content"`
	}
	if err := parseParams(request.Params.Arguments, &params); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if params.UserID == "" || params.TopicID == "" || params.Content == "" {
		return mcp.NewToolResultError("user_id, topic_id, and content are required"), nil
	}

	topic, agent, err := s.resolveTopic(ctx, params.UserID, params.TopicID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	msg := &models.ChatMessage{
		AgentID: agent.ID,
		TopicID: topic.ID,
		UserID:  params.UserID,
		Role:    models.RoleUser,
		Content: params.Content,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store message: %v", err)), nil
	}

	result, _ := json.Marshal(map[string]interface{}{
		"success":    true,
		"message_id": msg.ID,
	})
	return mcp.NewToolResultText(string(result)), nil
}

func (s *Server) handleGenerateReply(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params struct {
		UserID  string `json:"user_id"`
		TopicID string `json:"topic_id"`
	}
	if err := parseParams(request.Params.Arguments, &params); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if params.UserID == "" || params.TopicID == "" {
		return mcp.NewToolResultError("user_id and topic_id are required"), nil
	}

	job, err := s.generator.Prepare(ctx, params.UserID, params.TopicID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to prepare generation: %v", err)), nil
	}

	// MCP tool calls are request/response, so always run blocking regardless
	// of the agent's stream preference.
	msg, err := job.Run(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("generation failed: %v", err)), nil
	}

	result, _ := json.Marshal(map[string]interface{}{
		"message_id": msg.ID,
		"content":    msg.Content,
	})
	return mcp.NewToolResultText(string(result)), nil
}

func (s *Server) handleGetHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params struct {
		UserID  string `json:"user_id"`
		TopicID string `json:"topic_id"`
	}
	if err := parseParams(request.Params.Arguments, &params); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if params.UserID == "" || params.TopicID == "" {
		return mcp.NewToolResultError("user_id and topic_id are required"), nil
	}

	if _, _, err := s.resolveTopic(ctx, params.UserID, params.TopicID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	messages, err := s.store.ListMessages(ctx, params.TopicID, false)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get history: %v", err)), nil
	}

	result, _ := json.Marshal(messages)
	return mcp.NewToolResultText(string(result)), nil
}

func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	databaseReady := s.store.Ping(ctx) == nil

	result, _ := json.Marshal(map[string]interface{}{
		"status":         "operational",
		"version":        "1.0.0",
		"database_ready": databaseReady,
	})
	return mcp.NewToolResultText(string(result)), nil
}

// resolveTopic loads a topic and its agent and checks the user may use them.
func (s *Server) resolveTopic(ctx context.Context, userID, topicID string) (*models.Topic, *models.Agent, error) {
	topic, err := s.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, nil, err
	}
	if topic == nil {
		return nil, nil, fmt.Errorf("topic %s: %w", topicID, pipeline.ErrNotFound)
	}

	agent, err := s.store.GetAgent(ctx, topic.AgentID)
	if err != nil {
		return nil, nil, err
	}
	if agent == nil {
		return nil, nil, fmt.Errorf("agent %s: %w", topic.AgentID, pipeline.ErrNotFound)
	}
	if agent.UserID != userID && !agent.IsPublic {
		return nil, nil, fmt.Errorf("agent %s: %w", agent.ID, pipeline.ErrForbidden)
	}
	return topic, agent, nil
}

// Serve starts the MCP server with stdio transport
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// GetMCPServer returns the underlying MCP server for use with other transports (e.g., SSE)
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

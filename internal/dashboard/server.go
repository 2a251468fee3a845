package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xboty/ticketbot/internal/models"
	"github.com/xboty/ticketbot/internal/storage"
	"github.com/xboty/ticketbot/internal/ticket"
	"go.uber.org/zap"
)

type Config struct {
	Addr           string
	AdminUsername  string
	AdminPassword  string
	AttachmentsDir string
}

// Server is the admin dashboard backend: pure CRUD over the persisted
// ticket state, plus relaying admin replies into the ticket's channel.
type Server struct {
	store     storage.Storage
	machine   *ticket.Machine
	transport ticket.Transport
	tokens    *TokenService
	cfg       Config
	logger    *zap.Logger
}

func NewServer(
	store storage.Storage,
	machine *ticket.Machine,
	transport ticket.Transport,
	tokens *TokenService,
	cfg Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		store:     store,
		machine:   machine,
		transport: transport,
		tokens:    tokens,
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), cors())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "Dashboard API running"})
	})
	r.POST("/login", s.login)

	if s.cfg.AttachmentsDir != "" {
		r.Static("/attachments", s.cfg.AttachmentsDir)
	}

	auth := r.Group("/", s.tokens.Middleware())
	auth.GET("/tickets", s.listTickets)
	auth.POST("/send_reply", s.sendReply)
	auth.POST("/close_ticket", s.closeTicket)
	auth.GET("/admin_logs", s.adminLogs)
	auth.GET("/server_map", s.serverMap)

	return r
}

func (s *Server) Run() error {
	return s.Router().Run(s.cfg.Addr)
}

// cors is deliberately permissive; the dashboard frontend is served
// from a different origin.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if req.Username != s.cfg.AdminUsername || req.Password != s.cfg.AdminPassword {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "wrong credentials"})
		return
	}
	token, err := s.tokens.Issue(req.Username)
	if err != nil {
		s.logger.Error("Failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

func (s *Server) listTickets(c *gin.Context) {
	ids, err := s.store.ListConversations()
	if err != nil {
		s.logger.Error("Failed to list conversations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tickets"})
		return
	}
	statuses, err := s.store.LoadStatuses()
	if err != nil {
		s.logger.Error("Failed to load statuses", zap.Error(err))
		statuses = map[string]models.TicketStatus{}
	}

	tickets := make([]models.TicketSummary, 0, len(ids))
	for _, id := range ids {
		turns, err := s.store.LoadConversation(id)
		if err != nil {
			s.logger.Warn("Failed to load conversation",
				zap.Error(err),
				zap.Int64("channel_id", id))
			continue
		}
		attachments, err := s.store.ListAttachments(id)
		if err != nil {
			s.logger.Warn("Failed to list attachments",
				zap.Error(err),
				zap.Int64("channel_id", id))
		}

		key := models.ChannelKey(id)
		status, ok := statuses[key]
		if !ok {
			status = models.StatusOpen
		}
		lastMessage := ""
		if len(turns) > 0 {
			lastMessage = turns[len(turns)-1].Text
		}
		tickets = append(tickets, models.TicketSummary{
			TicketID:    key,
			Status:      status,
			Messages:    turns,
			Attachments: attachments,
			Count:       len(turns),
			LastMessage: lastMessage,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

type sendReplyRequest struct {
	TicketID string `json:"ticket_id" binding:"required"`
	Message  string `json:"message" binding:"required"`
}

func (s *Server) sendReply(c *gin.Context) {
	var req sendReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	cid, err := strconv.ParseInt(req.TicketID, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	if err := s.transport.SendText(cid, "**[ADMIN]:** "+req.Message); err != nil {
		s.logger.Error("Failed to relay admin reply",
			zap.Error(err),
			zap.String("ticket_id", req.TicketID))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to deliver reply"})
		return
	}
	s.audit(c, "REPLY", req.TicketID, req.Message)
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

type closeTicketRequest struct {
	TicketID string `json:"ticket_id" binding:"required"`
}

func (s *Server) closeTicket(c *gin.Context) {
	var req closeTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	cid, err := strconv.ParseInt(req.TicketID, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	s.machine.CloseTicket(cid)
	if err := s.transport.DeleteChannel(cid); err != nil {
		s.logger.Warn("Failed to delete channel",
			zap.Error(err),
			zap.String("ticket_id", req.TicketID))
	}
	s.audit(c, "CLOSE", req.TicketID, "")
	c.JSON(http.StatusOK, gin.H{"status": string(models.StatusClosed), "ticket_id": req.TicketID})
}

// ServerMapper is implemented by transports that can describe the
// guilds they are connected to.
type ServerMapper interface {
	ServerMap() []models.GuildMap
}

func (s *Server) serverMap(c *gin.Context) {
	servers := []models.GuildMap{}
	if m, ok := s.transport.(ServerMapper); ok {
		servers = append(servers, m.ServerMap()...)
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

func (s *Server) adminLogs(c *gin.Context) {
	logs, err := s.store.LoadAdminLogs()
	if err != nil {
		s.logger.Error("Failed to load admin logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) audit(c *gin.Context, action, ticketID, message string) {
	entry := models.AdminLogEntry{
		Admin:    c.GetString("user"),
		Action:   action,
		TicketID: ticketID,
		Message:  message,
		Time:     time.Now().UTC(),
	}
	if err := s.store.AppendAdminLog(entry); err != nil {
		s.logger.Error("Failed to append admin log",
			zap.Error(err),
			zap.String("action", action),
			zap.String("ticket_id", ticketID))
	}
}

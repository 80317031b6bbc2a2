// Package rpc exposes the engine over a JSON-over-unix-socket boundary.
//
// Framing is one JSON object per line in each direction. Agents keep a
// connection open and pipeline requests; every request carries the calling
// agent's id for audit attribution.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/forgeline/trellis/internal/clarify"
	"github.com/forgeline/trellis/internal/engine"
	"github.com/forgeline/trellis/internal/search"
	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/types"
)

// maxRequestBytes bounds a single request line.
const maxRequestBytes = 4 * 1024 * 1024

// Server accepts agent connections on a unix socket and dispatches
// operations to the engine.
type Server struct {
	engine   *engine.Engine
	listener net.Listener
	sockPath string
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects shutdown state
	shutdown bool

	stopOnce sync.Once
	stopCh   chan struct{}

	handlers map[string]func(context.Context, *Request) *Response
}

// NewServer creates a server for the given engine and socket path.
func NewServer(eng *engine.Engine, sockPath string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:   eng,
		sockPath: sockPath,
		ctx:      ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
	}
	s.initHandlers()
	return s
}

func (s *Server) initHandlers() {
	s.handlers = map[string]func(context.Context, *Request) *Response{
		OpPing:                 s.handlePing,
		OpShutdown:             s.handleShutdown,
		OpCreateTicket:         s.handleCreateTicket,
		OpUpdateTicket:         s.handleUpdateTicket,
		OpChangeTicketStatus:   s.handleChangeStatus,
		OpAddTicketComment:     s.handleAddComment,
		OpSearchTickets:        s.handleSearchTickets,
		OpGetTicket:            s.handleGetTicket,
		OpGetTickets:           s.handleGetTickets,
		OpLinkCommitToTicket:   s.handleLinkCommit,
		OpResolveTicket:        s.handleResolveTicket,
		OpReopenTicket:         s.handleReopenTicket,
		OpRequestClarification: s.handleClarification,
	}
}

// Start listens on the unix socket and serves connections until Stop.
func (s *Server) Start() error {
	if err := os.Remove(s.sockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", s.sockPath, err)
	}
	s.listener = listener

	if err := os.Chmod(s.sockPath, 0o600); err != nil {
		_ = s.listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop gracefully stops the server and removes the socket.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()

	if err := os.Remove(s.sockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove socket: %w", err)
	}
	return nil
}

// ShutdownRequested is closed when a client sends the shutdown operation.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.stopCh
}

// SocketPath returns the socket path the server listens on.
func (s *Server) SocketPath() string {
	return s.sockPath
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				fmt.Fprintf(os.Stderr, "Error accepting connection: %v\n", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxRequestBytes)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.sendResponse(writer, NewErrorResponse(storage.Validationf("invalid request JSON: %v", err)))
			continue
		}

		s.sendResponse(writer, s.handleRequest(&req))
	}
}

func (s *Server) sendResponse(writer *bufio.Writer, resp *Response) {
	respJSON, err := json.Marshal(resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling response: %v\n", err)
		return
	}
	if _, err := writer.Write(respJSON); err != nil {
		return
	}
	if _, err := writer.Write([]byte("\n")); err != nil {
		return
	}
	_ = writer.Flush()
}

func (s *Server) handleRequest(req *Request) *Response {
	handler, ok := s.handlers[req.Operation]
	if !ok {
		return NewErrorResponse(storage.Validationf("unknown operation: %s", req.Operation))
	}
	if req.Operation != OpPing && req.AgentID == "" {
		return NewErrorResponse(storage.Validationf("agent_id is required"))
	}
	return handler(s.ctx, req)
}

func decodeArgs[T any](req *Request) (*T, *Response) {
	var args T
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, NewErrorResponse(storage.Validationf("invalid args for %s: %v", req.Operation, err))
		}
	}
	return &args, nil
}

func (s *Server) handlePing(_ context.Context, _ *Request) *Response {
	return NewSuccessResponse(map[string]string{"status": "ok"})
}

func (s *Server) handleShutdown(_ context.Context, _ *Request) *Response {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return NewSuccessResponse(map[string]string{"status": "shutting down"})
}

func (s *Server) handleCreateTicket(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[CreateTicketArgs](req)
	if errResp != nil {
		return errResp
	}

	result, err := s.engine.Create(ctx, engine.CreateRequest{
		WorkflowID:      args.WorkflowID,
		Title:           args.Title,
		Description:     args.Description,
		TicketType:      args.TicketType,
		Priority:        types.Priority(args.Priority),
		Tags:            args.Tags,
		BlockedBy:       args.BlockedBy,
		AssignedAgentID: args.AssignedAgentID,
		ParentTicketID:  args.ParentTicketID,
	}, req.AgentID)
	if err != nil {
		return NewErrorResponse(err)
	}

	out := CreateTicketResult{Ticket: result.Ticket, SimilarTickets: []SimilarTicket{}}
	for _, sim := range result.SimilarTickets {
		out.SimilarTickets = append(out.SimilarTickets, SimilarTicket{
			TicketID: sim.Ticket.ID,
			Title:    sim.Ticket.Title,
			Score:    sim.Score,
		})
	}
	return NewSuccessResponse(out)
}

func (s *Server) handleUpdateTicket(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[UpdateTicketArgs](req)
	if errResp != nil {
		return errResp
	}

	fields, err := s.engine.Update(ctx, args.TicketID, args.Updates, args.UpdateComment, req.AgentID)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(UpdateTicketResult{FieldsUpdated: fields})
}

func (s *Server) handleChangeStatus(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[ChangeStatusArgs](req)
	if errResp != nil {
		return errResp
	}

	change, err := s.engine.ChangeStatus(ctx, args.TicketID, args.NewStatus, args.Comment, args.CommitSHA, req.AgentID)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(ChangeStatusResult{OldStatus: change.OldStatus, NewStatus: change.NewStatus})
}

func (s *Server) handleAddComment(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[AddCommentArgs](req)
	if errResp != nil {
		return errResp
	}

	id, err := s.engine.AddComment(ctx, &types.Comment{
		TicketID:    args.TicketID,
		AgentID:     req.AgentID,
		CommentText: args.CommentText,
		CommentType: types.CommentType(args.CommentType),
		Mentions:    args.Mentions,
	})
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(AddCommentResult{CommentID: id})
}

func (s *Server) handleSearchTickets(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[SearchTicketsArgs](req)
	if errResp != nil {
		return errResp
	}

	resp, err := s.engine.Search(ctx, search.Request{
		WorkflowID: args.WorkflowID,
		Query:      args.Query,
		Type:       search.Type(args.SearchType),
		Filters: search.Filters{
			Status:     args.Filters.Status,
			Priority:   args.Filters.Priority,
			TicketType: args.Filters.TicketType,
			Assignee:   args.Filters.AssignedAgentID,
			Tags:       args.Filters.Tags,
			Blocked:    args.Filters.IsBlocked,
		},
		Limit:           args.Limit,
		IncludeComments: args.IncludeComments,
	})
	if err != nil {
		return NewErrorResponse(err)
	}

	out := SearchTicketsResult{
		Results:      []SearchResult{},
		TotalFound:   resp.TotalFound,
		SearchTimeMS: resp.SearchTimeMS,
		Degraded:     resp.Degraded,
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, SearchResult{
			Ticket:         r.Ticket,
			RelevanceScore: r.Score,
			SemanticScore:  r.SemanticScore,
			KeywordScore:   r.KeywordScore,
			IsBlocked:      r.Ticket.IsBlocked,
			IsResolved:     r.Ticket.IsResolved,
		})
	}
	return NewSuccessResponse(out)
}

func (s *Server) handleGetTicket(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[GetTicketArgs](req)
	if errResp != nil {
		return errResp
	}

	detail, err := s.engine.GetWithHistory(ctx, args.TicketID, args.HistoryLimit, args.HistoryOffset)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(detail)
}

func (s *Server) handleGetTickets(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[GetTicketsArgs](req)
	if errResp != nil {
		return errResp
	}

	filter := types.TicketFilter{
		WorkflowID: args.WorkflowID,
		Status:     args.Status,
		TicketType: args.TicketType,
		Assignee:   args.Assignee,
		ParentID:   args.ParentID,
		Tags:       args.Tags,
		Blocked:    args.Blocked,
		Resolved:   args.Resolved,
		Limit:      args.Limit,
		Offset:     args.Offset,
		Sort:       types.SortOrder(args.Sort),
	}
	if args.Priority != nil {
		p := types.Priority(*args.Priority)
		filter.Priority = &p
	}

	page, err := s.engine.List(ctx, filter)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(page)
}

func (s *Server) handleLinkCommit(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[LinkCommitArgs](req)
	if errResp != nil {
		return errResp
	}

	err := s.engine.LinkCommit(ctx, &types.CommitLink{
		TicketID:      args.TicketID,
		CommitSHA:     args.CommitSHA,
		CommitMessage: args.CommitMessage,
		FilesChanged:  args.FilesChanged,
		Insertions:    args.Insertions,
		Deletions:     args.Deletions,
		FilesList:     args.FilesList,
	}, req.AgentID)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(LinkCommitResult{OK: true})
}

func (s *Server) handleResolveTicket(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[ResolveTicketArgs](req)
	if errResp != nil {
		return errResp
	}

	unblocked, err := s.engine.Resolve(ctx, args.TicketID, args.ResolutionComment, args.CommitSHA, req.AgentID)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(ResolveTicketResult{UnblockedTickets: unblocked})
}

func (s *Server) handleReopenTicket(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[ReopenTicketArgs](req)
	if errResp != nil {
		return errResp
	}

	if err := s.engine.Reopen(ctx, args.TicketID, args.Reason, req.AgentID); err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(map[string]bool{"ok": true})
}

func (s *Server) handleClarification(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[ClarificationArgs](req)
	if errResp != nil {
		return errResp
	}

	resp, err := s.engine.RequestClarification(ctx, clarify.Request{
		TicketID:            args.TicketID,
		ConflictDescription: args.ConflictDescription,
		Context:             args.Context,
		PotentialSolutions:  args.PotentialSolutions,
		AgentID:             req.AgentID,
	})
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(ClarificationResult{
		Clarification: resp.ClarificationText,
		CommentID:     resp.CommentID,
	})
}

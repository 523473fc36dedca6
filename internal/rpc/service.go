package rpc

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/apierr"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/auth"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/controller"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/event"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/group"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/node"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/screen"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/server"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/user"
)

// Service is the Manage/Client RPC boundary's one door into controller
// state: every method that reads or changes manager state funnels through
// queue.Submit, so a handler never touches a manager directly from the HTTP
// goroutine. Resolve, SubscribeTransfer and SubscribeChannel do not go
// through the queue: they call the auth registry and the event bus directly.
type Service struct {
	log zerolog.Logger

	queue  *controller.Queue
	auth   *auth.Registry
	nodes  *node.Manager
	groups *group.Manager
	srv    *server.Manager
	users  *user.Manager
	screen *screen.Manager
	events *event.Bus
}

func NewService(log zerolog.Logger, q *controller.Queue, reg *auth.Registry, nodes *node.Manager, groups *group.Manager, srv *server.Manager, users *user.Manager, scr *screen.Manager, events *event.Bus) *Service {
	return &Service{
		log: log.With().Str("component", "rpc-service").Logger(),
		queue: q, auth: reg, nodes: nodes, groups: groups, srv: srv, users: users, screen: scr, events: events,
	}
}

func parseRetention(s string) server.DiskRetention {
	if strings.EqualFold(s, "permanent") {
		return server.Permanent
	}
	return server.Temporary
}

// --- Manage RPC ---

func (s *Service) CreateNode(ctx context.Context, req CreateNodeRequest) error {
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		n := node.New(req.Name, uuid.New(), req.Plugin, req.Capabilities, req.Controller)
		return nil, s.nodes.Create(n)
	})
	return err
}

func (s *Service) UpdateNode(ctx context.Context, req UpdateNodeRequest) error {
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		if req.Capabilities != nil {
			n, ok := s.nodes.Get(req.Name)
			if !ok {
				return nil, apierr.NotFound("node", req.Name)
			}
			n.Capabilities = *req.Capabilities
		}
		if req.Active != nil {
			ids, err := s.nodes.SetActive(req.Name, *req.Active)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				_ = s.srv.ScheduleStop(&server.StopRequest{Server: id})
			}
		}
		return nil, nil
	})
	return err
}

func (s *Service) GetNode(ctx context.Context, name string) (NodeDTO, error) {
	v, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		n, ok := s.nodes.Get(name)
		if !ok {
			return nil, apierr.NotFound("node", name)
		}
		return nodeDTO(n), nil
	})
	if err != nil {
		return NodeDTO{}, err
	}
	return v.(NodeDTO), nil
}

func (s *Service) GetNodes(ctx context.Context) ([]NodeDTO, error) {
	v, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		all := s.nodes.All()
		out := make([]NodeDTO, 0, len(all))
		for _, n := range all {
			out = append(out, nodeDTO(n))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]NodeDTO), nil
}

func (s *Service) DeleteNode(ctx context.Context, name string) error {
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		for _, g := range s.groups.All() {
			for _, n := range g.Nodes {
				if n == name {
					return nil, apierr.StillInUse("node", name)
				}
			}
		}
		return nil, s.nodes.Delete(name)
	})
	return err
}

func (s *Service) CreateGroup(ctx context.Context, req CreateGroupRequest) error {
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		g := group.New(req.Name)
		g.Nodes = req.Nodes
		g.Constraints = group.Constraints{Min: req.Min, Max: req.Max, Priority: req.Priority}
		g.Scaling = group.ScalingPolicy{Enabled: req.ScalingEnabled, StartThreshold: req.StartThreshold, StopEmptyServer: req.StopEmptyServer}
		g.Resources = req.Resources
		g.Spec = req.Spec
		g.PortCount = req.PortCount
		g.Retention = parseRetention(req.Retention)
		g.MaxPlayers = req.MaxPlayers
		g.FallbackEnabled = req.FallbackEnabled
		g.FallbackPriority = req.FallbackPriority
		return nil, s.groups.Create(g)
	})
	return err
}

func (s *Service) UpdateGroup(ctx context.Context, req UpdateGroupRequest) error {
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		g, ok := s.groups.Get(req.Name)
		if !ok {
			return nil, apierr.NotFound("group", req.Name)
		}
		if req.Active != nil && !*req.Active {
			return nil, s.groups.Deactivate(req.Name)
		}
		if req.Min != nil {
			g.Constraints.Min = *req.Min
		}
		if req.Max != nil {
			g.Constraints.Max = *req.Max
		}
		if req.ScalingEnabled != nil {
			g.Scaling.Enabled = *req.ScalingEnabled
		}
		if req.StopEmptyServer != nil {
			g.Scaling.StopEmptyServer = *req.StopEmptyServer
		}
		return nil, nil
	})
	return err
}

func (s *Service) GetGroup(ctx context.Context, name string) (GroupDTO, error) {
	v, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		g, ok := s.groups.Get(name)
		if !ok {
			return nil, apierr.NotFound("group", name)
		}
		return groupDTO(g, s.groups.RunningCount(g.Name)), nil
	})
	if err != nil {
		return GroupDTO{}, err
	}
	return v.(GroupDTO), nil
}

func (s *Service) GetGroups(ctx context.Context) ([]GroupDTO, error) {
	v, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		all := s.groups.All()
		out := make([]GroupDTO, 0, len(all))
		for _, g := range all {
			out = append(out, groupDTO(g, s.groups.RunningCount(g.Name)))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]GroupDTO), nil
}

func (s *Service) DeleteGroup(ctx context.Context, name string) error {
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) { return nil, s.groups.Delete(name) })
	return err
}

// ScheduleServer schedules a one-off server outside of any group's own
// scaler, gated by schedule-server.
func (s *Service) ScheduleServer(ctx context.Context, req ScheduleServerRequest) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		return nil, s.srv.ScheduleStart(&server.StartRequest{
			Name: req.Name, UUID: id, Nodes: req.Nodes, Resources: req.Resources,
			Spec: req.Spec, PortCount: req.PortCount, Priority: req.Priority,
			Retention: parseRetention(req.Retention),
		})
	})
	return id, err
}

func (s *Service) RequestServerStop(ctx context.Context, id uuid.UUID) error {
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		return nil, s.srv.ScheduleStop(&server.StopRequest{Server: id})
	})
	return err
}

func (s *Service) GetServer(ctx context.Context, id uuid.UUID) (ServerDTO, error) {
	v, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		srv, ok := s.srv.GetByUUID(id)
		if !ok {
			return nil, apierr.NotFound("server", id.String())
		}
		return serverDTO(srv), nil
	})
	if err != nil {
		return ServerDTO{}, err
	}
	return v.(ServerDTO), nil
}

func (s *Service) GetServers(ctx context.Context) ([]ServerDTO, error) {
	v, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		all := s.srv.All()
		out := make([]ServerDTO, 0, len(all))
		for _, srv := range all {
			out = append(out, serverDTO(srv))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ServerDTO), nil
}

func (s *Service) WriteToScreen(ctx context.Context, id uuid.UUID, data []byte) error {
	_, err := s.queue.Submit(ctx, func(c context.Context) (any, error) { return nil, s.screen.Write(c, id, data) })
	return err
}

// TransferUsers is shared by the Manage boundary (operator-initiated,
// arbitrary source) and the Client boundary (server-initiated, source
// implied by the caller's own principal — callers pass it through
// unchanged here since resolution only cares about the target).
func (s *Service) TransferUsers(ctx context.Context, req TransferUsersRequest) (int, error) {
	target, perr := req.toTarget()
	if perr != nil {
		return 0, perr
	}
	v, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		return s.users.Transfer(target, req.UserIDs)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// --- Client RPC (principal.Kind == auth.PrincipalServer) ---

func (s *Service) Heartbeat(ctx context.Context, serverID uuid.UUID) error {
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		return nil, s.srv.Heartbeat(serverID)
	})
	return err
}

func (s *Service) MarkRunning(ctx context.Context, serverID uuid.UUID) error {
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) { return nil, s.srv.SetRunning(serverID) })
	return err
}

func (s *Service) SetReady(ctx context.Context, serverID uuid.UUID, ready bool) error {
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) { return nil, s.srv.SetReady(serverID, ready) })
	return err
}

// Reset revokes the caller's own server token without scheduling a stop;
// distinct from RequestServerStop, which tears the server down.
func (s *Service) Reset(ctx context.Context, token string) error {
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		s.auth.RevokeServerToken(token)
		return nil, nil
	})
	return err
}

func (s *Service) UserConnected(ctx context.Context, serverID uuid.UUID, req UserConnectedRequest) error {
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		return nil, s.users.UserConnected(serverID, req.UUID, req.Name)
	})
	return err
}

func (s *Service) UserDisconnected(ctx context.Context, serverID uuid.UUID, req UserDisconnectedRequest) error {
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		return nil, s.users.UserDisconnected(serverID, req.UUID)
	})
	return err
}

func (s *Service) SendChannel(ctx context.Context, from uuid.UUID, req ChannelMessageRequest) error {
	_, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		s.events.EmitChannelMessage(req.Channel, from, req.Data)
		return nil, nil
	})
	return err
}

// SubscribeTransfer opens a live feed of UserTransferRequested envelopes
// for servers to push transferring users toward their destination.
func (s *Service) SubscribeTransfer(ctx context.Context, serverID uuid.UUID) (<-chan event.Envelope, func()) {
	return s.events.SubscribeUnderServer(ctx, event.TransferKey(serverID), 16, serverID)
}

// SubscribeChannel opens a live feed of a named channel's messages.
func (s *Service) SubscribeChannel(ctx context.Context, name string) (<-chan event.Envelope, func()) {
	return event.Subscribe(s.events, ctx, event.ChannelKey(name), 16)
}

// SubscribeScreen opens a live feed of a server's screen output, preceded
// by its cached backlog as the first batch (see screen.Manager.Subscribe).
// Routed through the task queue: screen.Manager's subscriber map, unlike the
// event bus, has no mutex of its own and is mutated by the controller's
// Tick in the same goroutine that owns every other component.
type screenSub struct {
	ch     <-chan []string
	cancel func()
}

func (s *Service) SubscribeScreen(ctx context.Context, serverID uuid.UUID) (<-chan []string, func(), error) {
	v, err := s.queue.Submit(ctx, func(context.Context) (any, error) {
		ch, cancel, err := s.screen.Subscribe(serverID, 8)
		if err != nil {
			return nil, err
		}
		return screenSub{ch: ch, cancel: cancel}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	sub := v.(screenSub)

	// The unsubscribe closure also mutates screen.Manager state, so it must
	// run on the controller goroutine too, not on the websocket handler's.
	cancel := func() {
		cctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_, _ = s.queue.Submit(cctx, func(context.Context) (any, error) { sub.cancel(); return nil, nil })
	}
	return sub.ch, cancel, nil
}

// Resolve validates a bearer token against the registry.
func (s *Service) Resolve(token string) (auth.Principal, bool) { return s.auth.Resolve(token) }

package server

import (
	"context"
	"fmt"
	"sort"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
)

// Tick advances the start/stop/restart state machines by one step each and
// runs the heartbeat/stop-flag health checks. Called once per controller
// tick, after nodes.Tick, per the documented component order.
func (m *Manager) Tick(ctx context.Context) {
	m.tickStartQueue(ctx)
	m.tickStopQueue(ctx)
	m.tickRestartQueue(ctx)
	m.checkStopFlags()
	m.checkHeartbeats()
}

// tickStartQueue processes StartRequests in descending priority, FIFO
// within the same priority.
func (m *Manager) tickStartQueue(ctx context.Context) {
	sort.SliceStable(m.startQueue, func(i, j int) bool {
		return m.startQueue[i].Priority > m.startQueue[j].Priority
	})

	now := timeNow()
	var remaining []*StartRequest
	for _, req := range m.startQueue {
		if req.aborted && req.Stage.Kind != StartCreating {
			continue // drop silently: stop arrived before allocation committed
		}
		if req.When != nil && now.Before(*req.When) {
			remaining = append(remaining, req)
			continue
		}

		keep := m.advanceStart(ctx, req)
		if keep {
			remaining = append(remaining, req)
		}
	}
	m.startQueue = remaining
}

// advanceStart steps req's stage machine once. It returns false when the
// request has reached a terminal state (committed or aborted) and should be
// dropped from the queue.
func (m *Manager) advanceStart(ctx context.Context, req *StartRequest) bool {
	switch req.Stage.Kind {
	case StartQueued:
		m.beginAllocate(ctx, req, 0)
		return true

	case StartAllocating:
		if !req.Stage.Call.IsFinished() {
			return true
		}
		addrs, err := req.Stage.Call.Await()
		if err != nil {
			next := req.Stage.NodeIdx + 1
			m.log.Warn().Str("name", req.Name).Str("node", req.Nodes[req.Stage.NodeIdx]).Err(err).Msg("allocate failed on node, trying next")
			if next >= len(req.Nodes) {
				m.log.Warn().Str("name", req.Name).Msg("no remaining nodes, aborting start request")
				return false
			}
			m.beginAllocate(ctx, req, next)
			return true
		}
		m.commitAllocation(ctx, req, addrs)
		return true

	case StartCreating:
		if !req.Stage.Create.IsFinished() {
			return true
		}
		outcome, err := req.Stage.Create.Await()
		s, exists := m.servers[req.UUID]
		if !exists {
			return false
		}
		if err != nil {
			m.log.Warn().Str("name", req.Name).Str("node", s.Node).Err(err).Msg("plugin start failed on node, releasing allocation")
			m.releaseAllocation(ctx, s)
			m.tokens.RevokeServerToken(s.Token)
			delete(m.servers, req.UUID)
			delete(m.byName, req.Name)

			next := req.Stage.NodeIdx + 1
			if req.aborted || next >= len(req.Nodes) {
				if next >= len(req.Nodes) {
					m.log.Warn().Str("name", req.Name).Msg("no remaining nodes, aborting start request")
				}
				return false
			}
			m.beginAllocate(ctx, req, next)
			return true
		}

		if outcome.Supported {
			m.screens.Register(req.UUID, outcome.Screen, 0)
		}
		s.State = StateStarting
		m.events.EmitServerStarted(req.UUID)

		if req.aborted {
			m.stopQueue = append(m.stopQueue, &StopRequest{Server: req.UUID})
		}
		return false
	}
	return false
}

func (m *Manager) beginAllocate(ctx context.Context, req *StartRequest, nodeIdx int) {
	nodeName := req.Nodes[nodeIdx]
	handle, ok := m.nodes.NodeHandle(nodeName)
	portCount := req.PortCount
	if portCount <= 0 {
		portCount = 1
	}
	proposal := plugin.AllocationProposal{
		PortCount: portCount,
		Resources: req.Resources,
		Spec:      req.Spec,
	}

	var call *plugin.Call[[]plugin.Address]
	if !ok {
		call = plugin.Go(ctx, func(context.Context) ([]plugin.Address, error) {
			return nil, fmt.Errorf("node %s has no available plugin handle", nodeName)
		})
	} else {
		call = plugin.Go(ctx, func(c context.Context) ([]plugin.Address, error) {
			return handle.Allocate(c, proposal)
		})
	}
	req.Stage = StartStage{Kind: StartAllocating, NodeIdx: nodeIdx, Call: call}
}

// commitAllocation attaches the allocation to a new server record even
// though Creating hasn't completed yet, per the spec's commit policy, then
// starts the background create call.
func (m *Manager) commitAllocation(ctx context.Context, req *StartRequest, addrs []plugin.Address) {
	nodeName := req.Nodes[req.Stage.NodeIdx]

	s := &Server{
		Name:  req.Name,
		UUID:  req.UUID,
		Group: req.Group,
		Node:  nodeName,
		Allocation: Allocation{
			Addresses: addrs,
			Resources: req.Resources,
			Spec:      req.Spec,
		},
		Retention: req.Retention,
		State:     StateStarting,
		Timeout:   m.startupTimeout,
		NextCheck: timeNow().Add(m.startupTimeout),
	}
	m.servers[s.UUID] = s
	m.byName[s.Name] = s.UUID
	m.nodes.AttachServer(nodeName, s.UUID)

	token, err := m.tokens.IssueServerToken(s.UUID)
	if err != nil {
		m.log.Warn().Str("name", req.Name).Err(err).Msg("failed to mint server token")
	}
	s.Token = token

	controller, _ := m.nodes.NodeController(nodeName)
	handle, _ := m.nodes.NodeHandle(nodeName)

	sctx := plugin.ServerContext{
		ServerID:   s.UUID.String(),
		ServerName: s.Name,
		Token:      token,
		Allocation: addrs,
		Resources:  req.Resources,
		Spec:       req.Spec,
		Controller: controller,
	}

	create := plugin.Go(ctx, func(c context.Context) (plugin.StartOutcome, error) {
		if handle == nil {
			return plugin.StartOutcome{}, fmt.Errorf("node %s has no plugin handle", nodeName)
		}
		return handle.Start(c, sctx)
	})
	req.Stage = StartStage{Kind: StartCreating, NodeIdx: req.Stage.NodeIdx, Create: create}
}

func (m *Manager) releaseAllocation(ctx context.Context, s *Server) {
	handle, ok := m.nodes.NodeHandle(s.Node)
	if ok {
		if err := handle.Free(ctx, s.Allocation.Addresses); err != nil {
			m.log.Warn().Str("server", s.Name).Err(err).Msg("failed to free allocation")
		}
	}
	m.nodes.DetachServer(s.Node, s.UUID)
}

// tickStopQueue processes StopRequests Queued -> Freeing -> Running -> removed.
func (m *Manager) tickStopQueue(ctx context.Context) {
	now := timeNow()
	var remaining []*StopRequest
	for _, req := range m.stopQueue {
		if req.When != nil && now.Before(*req.When) {
			remaining = append(remaining, req)
			continue
		}
		if req.retryAfter != nil && now.Before(*req.retryAfter) {
			remaining = append(remaining, req)
			continue
		}
		if m.advanceStop(ctx, req) {
			remaining = append(remaining, req)
		}
	}
	m.stopQueue = remaining
}

func (m *Manager) advanceStop(ctx context.Context, req *StopRequest) bool {
	s, ok := m.servers[req.Server]
	if !ok {
		return false // link error: already gone, cancel silently
	}
	s.State = StateStopping

	switch req.Stage.Kind {
	case StopQueued:
		handle, hok := m.nodes.NodeHandle(s.Node)
		call := plugin.Go(ctx, func(c context.Context) (struct{}, error) {
			if hok {
				return struct{}{}, handle.Free(c, s.Allocation.Addresses)
			}
			return struct{}{}, nil
		})
		req.Stage = StopStage{Kind: StopFreeing, Free: call}
		return true

	case StopFreeing:
		if !req.Stage.Free.IsFinished() {
			return true
		}
		if _, err := req.Stage.Free.Await(); err != nil {
			m.log.Warn().Str("server", s.Name).Err(err).Msg("failed to free ports during stop")
		}
		m.nodes.DetachServer(s.Node, s.UUID)

		guard := plugin.NewGuard()
		handle, hok := m.nodes.NodeHandle(s.Node)
		sctx := plugin.ServerContext{ServerID: s.UUID.String(), ServerName: s.Name, Token: s.Token}
		call := plugin.Go(ctx, func(c context.Context) (struct{}, error) {
			if hok {
				return struct{}{}, handle.Stop(c, sctx, guard)
			}
			return struct{}{}, nil
		})
		req.Stage = StopStage{Kind: StopRunning, Stop: call}
		return true

	case StopRunning:
		if !req.Stage.Stop.IsFinished() {
			return true
		}
		_, err := req.Stage.Stop.Await()
		if err != nil && s.Retention == Permanent {
			m.log.Warn().Str("server", s.Name).Err(err).Msg("stop failed on permanent server, retaining and retrying")
			retry := timeNow().Add(m.restartTimeout)
			req.retryAfter = &retry
			req.Stage = StopStage{Kind: StopQueued}
			return true
		}
		if err != nil {
			m.log.Warn().Str("server", s.Name).Err(err).Msg("stop failed on temporary server, removing record regardless")
		}

		m.screens.Unregister(s.UUID)
		m.users.PurgeServer(s.UUID)
		m.tokens.RevokeServerToken(s.Token)
		delete(m.servers, s.UUID)
		delete(m.byName, s.Name)
		m.events.EmitServerStopped(s.UUID)
		return false
	}
	return false
}

// tickRestartQueue processes RestartRequests Queued -> Running -> done.
func (m *Manager) tickRestartQueue(ctx context.Context) {
	now := timeNow()
	var remaining []*RestartRequest
	for _, req := range m.restartQueue {
		if req.When != nil && now.Before(*req.When) {
			remaining = append(remaining, req)
			continue
		}
		if m.advanceRestart(ctx, req) {
			remaining = append(remaining, req)
		}
	}
	m.restartQueue = remaining
}

func (m *Manager) advanceRestart(ctx context.Context, req *RestartRequest) bool {
	s, ok := m.servers[req.Server]
	if !ok {
		return false
	}

	switch req.Stage.Kind {
	case RestartQueued:
		s.State = StateRestarting
		s.Ready = false
		s.NextCheck = timeNow().Add(m.restartTimeout)
		handle, hok := m.nodes.NodeHandle(s.Node)
		sctx := plugin.ServerContext{ServerID: s.UUID.String(), ServerName: s.Name, Token: s.Token}
		call := plugin.Go(ctx, func(c context.Context) (struct{}, error) {
			if hok {
				return struct{}{}, handle.Restart(c, sctx)
			}
			return struct{}{}, nil
		})
		req.Stage = RestartStage{Kind: RestartRunning, Call: call}
		return true

	case RestartRunning:
		if !req.Stage.Call.IsFinished() {
			return true
		}
		if _, err := req.Stage.Call.Await(); err != nil {
			m.log.Warn().Str("server", s.Name).Err(err).Msg("restart failed")
		} else {
			s.State = StateRunning
		}
		return false
	}
	return false
}

// checkStopFlags enqueues a stop for any server whose deferred stop instant
// has elapsed and is still set.
func (m *Manager) checkStopFlags() {
	now := timeNow()
	for id, s := range m.servers {
		if s.StopAt != nil && !now.Before(*s.StopAt) {
			s.StopAt = nil
			m.stopQueue = append(m.stopQueue, &StopRequest{Server: id})
		}
	}
}

// checkHeartbeats schedules a restart (Permanent) or stop (Temporary) for
// any server whose heartbeat deadline has elapsed.
func (m *Manager) checkHeartbeats() {
	now := timeNow()
	for id, s := range m.servers {
		if s.NextCheck.IsZero() || now.Before(s.NextCheck) {
			continue
		}
		if s.Retention == Permanent {
			m.log.Info().Str("server", s.Name).Msg("heartbeat expired, scheduling restart")
			m.restartQueue = append(m.restartQueue, &RestartRequest{Server: id})
		} else {
			m.log.Info().Str("server", s.Name).Msg("heartbeat expired, scheduling stop")
			m.stopQueue = append(m.stopQueue, &StopRequest{Server: id})
		}
		// Push the deadline out so a slow-to-process tick doesn't
		// re-enqueue the same server every tick until it actually stops.
		s.NextCheck = now.Add(m.restartTimeout)
	}
}

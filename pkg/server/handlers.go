package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/fenghuanghao1986/NAO-engine/pkg/control"
	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hub"
	"github.com/fenghuanghao1986/NAO-engine/pkg/intent"
	"github.com/fenghuanghao1986/NAO-engine/pkg/protocol"
)

// handleStatus returns the lifecycle state, the last frame number and the
// websocket stream's state.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	st := protocol.EncodeState(s.engine.Snapshot())
	st.Registers = nil
	return c.JSON(protocol.StatusData{
		StateData: st,
		Streaming: s.frames.IsRunning(),
		Clients:   s.frames.ClientCount(),
	})
}

// handleRegisters returns every register value.
func (s *Server) handleRegisters(c *fiber.Ctx) error {
	return c.JSON(protocol.EncodeState(s.engine.Snapshot()).Registers)
}

// handleRegister returns one register value.
func (s *Server) handleRegister(c *fiber.Ctx) error {
	name := c.Params("component")
	v, ok := s.engine.Snapshot().Registers[name]
	if !ok {
		return s.fail(c, errcode.New(errcode.UnknownComponent, "read", name, ""))
	}
	return c.JSON(protocol.EncodeValue(v))
}

// handleCommands returns the addressable components.
func (s *Server) handleCommands(c *fiber.Ctx) error {
	return c.JSON(protocol.EncodeCommands(s.engine.Commands()))
}

// handleSubmit queues an intent and waits for its frame. A 202 means the
// intent is queued but no frame ran it in time.
func (s *Server) handleSubmit(c *fiber.Ctx) error {
	var req protocol.IntentData
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, errcode.Wrap(errcode.InvalidValue, "decode intent", err))
	}
	in, err := req.Intent()
	if err != nil {
		return s.fail(c, err)
	}

	reply := make(chan intent.Result, 1)
	if err := s.engine.Submit(in.WithReply(reply)); err != nil {
		return s.fail(c, err)
	}

	res, ok := s.await(reply)
	if !ok {
		return c.Status(fiber.StatusAccepted).JSON(queued(in))
	}
	return c.JSON(protocol.EncodeResult(res))
}

// handleReconfigure rebuilds the engine from a profile on the engine's host
// and tells websocket clients about the new state and command list.
func (s *Server) handleReconfigure(c *fiber.Ctx) error {
	var req protocol.ReconfigureData
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return s.fail(c, errcode.Wrap(errcode.InvalidValue, "decode reconfigure", err))
		}
	}
	if err := s.engine.Reconfigure(req.Profile, req.ID); err != nil {
		return s.fail(c, err)
	}
	s.logger.Info("reconfigured over http", "profile", req.Profile, "id", req.ID)

	snap := s.engine.Snapshot()
	if err := s.announce(snap); err != nil {
		s.logger.Warn("announce reconfigure", "error", err)
	}
	st := protocol.EncodeState(snap)
	st.Registers = nil
	return c.JSON(st)
}

// handleFrames returns recently journaled frames.
func (s *Server) handleFrames(c *fiber.Ctx) error {
	if s.journal == nil {
		return c.Status(fiber.StatusNotFound).JSON(protocol.ErrorData{Code: string(errcode.Error), Error: "journal disabled"})
	}
	entries, err := s.journal.Recent(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(entries)
}

// handleFramesWS streams frames until the client goes away. A new client
// first gets the current state and command list.
func (s *Server) handleFramesWS(conn *websocket.Conn) {
	client := hub.NewClient(s.frames, conn, s.handleClientMessage)
	if client == nil {
		return
	}
	snap := s.engine.Snapshot()
	if msg, err := protocol.NewStateMessage(snap); err == nil {
		s.reply(client, msg)
	}
	if msg, err := protocol.NewCommandsMessage(s.engine.Commands()); err == nil {
		s.reply(client, msg)
	}
	client.Run()
}

// handleClientMessage answers pings and intents sent over the websocket.
// Intents are answered with a result once their frame runs, or with a
// queued result after the reply timeout.
func (s *Server) handleClientMessage(client *hub.Client, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.replyError(client, errcode.Wrap(errcode.InvalidValue, "decode message", err))
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			s.replyError(client, errcode.Wrap(errcode.InvalidValue, "decode ping", err))
			return
		}
		sent := ping.Timestamp
		if sent == 0 {
			sent = msg.Timestamp
		}
		if pong, err := protocol.NewPongMessage(ping.ID, sent, time.Now().UnixMilli()); err == nil {
			s.reply(client, pong)
		}

	case protocol.TypeIntent:
		req, err := msg.GetIntentData()
		if err != nil {
			s.replyError(client, errcode.Wrap(errcode.InvalidValue, "decode intent", err))
			return
		}
		in, err := req.Intent()
		if err != nil {
			s.replyError(client, err)
			return
		}
		reply := make(chan intent.Result, 1)
		if err := s.engine.Submit(in.WithReply(reply)); err != nil {
			s.replyError(client, err)
			return
		}
		// The read goroutine must keep reading while the frame runs.
		go func() {
			var out *protocol.Message
			var err error
			if res, ok := s.await(reply); ok {
				out, err = protocol.NewResultMessage(res)
			} else {
				out, err = protocol.NewMessage(protocol.TypeResult, queued(in))
			}
			if err == nil {
				s.reply(client, out)
			}
		}()

	default:
		s.replyError(client, errcode.New(errcode.InvalidValue, "websocket", "", fmt.Sprintf("unexpected message type %q", msg.Type)))
	}
}

// announce sends the state and command list to every websocket client.
func (s *Server) announce(snap *control.Snapshot) error {
	state, err := protocol.NewStateMessage(snap)
	if err != nil {
		return err
	}
	if err := s.frames.BroadcastJSON(state); err != nil {
		return err
	}
	cmds, err := protocol.NewCommandsMessage(s.engine.Commands())
	if err != nil {
		return err
	}
	return s.frames.BroadcastJSON(cmds)
}

func (s *Server) await(reply <-chan intent.Result) (intent.Result, bool) {
	timer := time.NewTimer(s.replyTimeout)
	defer timer.Stop()
	select {
	case res := <-reply:
		return res, true
	case <-timer.C:
		return intent.Result{}, false
	}
}

func queued(in intent.Intent) protocol.ResultData {
	return protocol.ResultData{
		ID:        in.ID.String(),
		Module:    in.Module,
		Component: in.Component,
		Kind:      in.Kind.String(),
		Status:    "queued",
	}
}

func (s *Server) reply(client *hub.Client, msg *protocol.Message) {
	out, err := hub.Encode(0, msg)
	if err != nil {
		s.logger.Error("encode reply", "type", msg.Type, "error", err)
		return
	}
	if !client.Send(out) {
		s.logger.Debug("reply dropped", "type", msg.Type)
	}
}

func (s *Server) replyError(client *hub.Client, err error) {
	if msg, encErr := protocol.NewErrorMessage(err); encErr == nil {
		s.reply(client, msg)
	}
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(protocol.ErrorData{Code: string(errcode.Of(err)), Error: err.Error()})
}

func statusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch errcode.Of(err) {
	case errcode.UnknownComponent:
		return fiber.StatusNotFound
	case errcode.UnknownDegree, errcode.InvalidValue:
		return fiber.StatusBadRequest
	case errcode.LifecycleViolation:
		return fiber.StatusConflict
	case errcode.ActuatorConstructionFailure:
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusInternalServerError
}

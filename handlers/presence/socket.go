package presence

import (
	"boardsync/access"
	"boardsync/core"
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const authorizeTimeout = 10 * time.Second

type ackInvoker func(err error, payload map[string]any)

type Options struct {
	MaxHttpBufferSize int64
	AllowedOrigins    []string
}

// Authorizer checks a presence join the same way a sync connection is checked.
type Authorizer interface {
	Authorize(ctx context.Context, req access.Request) (*core.Grant, error)
}

// SetupSocketIO creates the presence server. Clients emit "join-board" with
// {boardId, token}; the joiner receives "online_users" and the rest of the
// board receives "member_online" and later "member_offline".
func SetupSocketIO(gate Authorizer, tracker *Tracker, opts Options) *socketio.Server {
	sopts := socketio.DefaultServerOptions()
	if opts.MaxHttpBufferSize > 0 {
		sopts.SetMaxHttpBufferSize(opts.MaxHttpBufferSize)
	}
	sopts.SetPath("/socket.io")
	if len(opts.AllowedOrigins) > 0 {
		origins := make([]any, 0, len(opts.AllowedOrigins))
		for _, o := range opts.AllowedOrigins {
			origins = append(origins, o)
		}
		sopts.SetCors(&types.Cors{
			Origin:      origins,
			Credentials: true,
		})
	}
	srv := socketio.NewServer(nil, sopts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		me := string(socket.Id())

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("join-board", func(datas ...any) {
			ack, args := extractAck(datas)
			boardID, token, err := parseJoinArgs(args)
			if err != nil {
				respondWithAck(socket, ack, "join-board-ack", errorPayload(err), err)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
			defer cancel()
			grant, err := gate.Authorize(ctx, access.Request{
				Token:     token,
				BoardID:   boardID,
				Action:    access.ActionAccess,
				IPAddress: socket.Handshake().Address,
				UserAgent: headerValue(socket.Handshake().Headers, "User-Agent"),
			})
			if err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"socket_id": me,
					"board_id":  boardID,
				}).Info("Presence join rejected")
				respondWithAck(socket, ack, "join-board-ack", errorPayload(err), err)
				return
			}

			member := Member{UserID: grant.User.ID, Username: grant.User.Username}
			online, previous := tracker.Join(me, boardID, member)
			if previous != "" {
				socket.Leave(socketio.Room(previous))
				_ = srv.To(socketio.Room(previous)).Emit("member_offline", member)
			}

			room := socketio.Room(boardID)
			socket.Join(room)
			_ = socket.Broadcast().To(room).Emit("member_online", member)
			_ = socket.Emit("online_users", map[string]any{"users": online})

			logrus.WithFields(logrus.Fields{
				"socket_id":  me,
				"board_id":   boardID,
				"user_id":    member.UserID,
				"user_count": len(online),
			}).Debug("Presence joined")

			respondWithAck(socket, ack, "join-board-ack", map[string]any{
				"status":     "ok",
				"user_count": len(online),
			}, nil)
		})

		socket.On("disconnecting", func(datas ...any) {
			boardID, member, ok := tracker.Leave(me)
			if !ok {
				return
			}
			_ = socket.Broadcast().To(socketio.Room(boardID)).Emit("member_offline", member)
			logrus.WithFields(logrus.Fields{
				"socket_id": me,
				"board_id":  boardID,
			}).Debug("Presence left")
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})

	return srv
}

func parseJoinArgs(args []any) (boardID, token string, err error) {
	if len(args) == 0 {
		return "", "", fmt.Errorf("board id is required")
	}
	payload, ok := args[0].(map[string]any)
	if !ok {
		return "", "", fmt.Errorf("join payload must be an object")
	}
	boardID, _ = payload["boardId"].(string)
	token, _ = payload["token"].(string)
	if boardID == "" {
		return "", "", fmt.Errorf("board id is required")
	}
	return boardID, token, nil
}

func errorPayload(err error) map[string]any {
	return map[string]any{
		"status": "error",
		"error":  err.Error(),
	}
}

func headerValue(headers map[string][]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	ack = wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

// wrapAck adapts whatever callback shape the client library delivered into a
// (err, payload) call.
func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		args := make([]reflect.Value, typ.NumIn())
		for i := range args {
			var arg any
			switch {
			case typ.NumIn() == 1 && err != nil:
				arg = err
			case typ.NumIn() == 1:
				arg = payload
			case i == 0:
				arg = err
			case i == 1:
				arg = payload
			}
			args[i] = coerceValue(arg, typ.In(i))
		}
		value.Call(args)
	}
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(targetType):
		return rv
	case rv.Type().ConvertibleTo(targetType):
		return rv.Convert(targetType)
	case targetType.Kind() == reflect.Interface && targetType.NumMethod() == 0:
		return rv
	case targetType.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}
	return reflect.Zero(targetType)
}

func respondWithAck(socket *socketio.Socket, ack ackInvoker, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}

	if event != "" && payload != nil {
		_ = socket.Emit(event, payload)
	}
}

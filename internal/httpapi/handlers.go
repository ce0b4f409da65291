package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-competition-backend/internal/chat"
	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
	"github.com/DoyleJ11/quiz-competition-backend/internal/hub"
	"github.com/DoyleJ11/quiz-competition-backend/internal/identity"
	"github.com/DoyleJ11/quiz-competition-backend/internal/registry"
	"github.com/DoyleJ11/quiz-competition-backend/internal/roster"
	"github.com/DoyleJ11/quiz-competition-backend/internal/session"
	"github.com/DoyleJ11/quiz-competition-backend/internal/types"
)

const (
	maxBodyBytes = 1 << 20
	qrSize       = 320
)

type Deps struct {
	Rooms    *registry.Registry
	Roster   *roster.Coordinator
	Chat     *chat.Channel
	Hub      *hub.Hub
	Identity identity.Provider
	Log      *zap.Logger

	// PublicURL is the web client's base URL used in invite links. When empty
	// the request's own scheme and host are used.
	PublicURL      string
	AllowedOrigins []string
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, body := types.NewErrorBody(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func decode(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBadRequest, err)
	}
	return nil
}

// user is set by identity.Middleware on every route that reaches a handler.
func user(r *http.Request) identity.User {
	u, _ := identity.FromContext(r.Context())
	return u
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func CreateRoom(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p engine.Params
		if err := decode(r, w, &p); err != nil {
			writeError(w, d.Log, err)
			return
		}
		room, err := d.Rooms.CreateRoom(r.Context(), p, user(r))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		writeJSON(w, http.StatusCreated, types.NewRoomView(room))
	}
}

func GetRoom(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := d.Rooms.GetRoom(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, types.NewRoomView(room))
	}
}

func FindByCode(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := d.Rooms.FindRoomByInviteCode(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, types.NewRoomView(room))
	}
}

type joinByCodeRequest struct {
	Code string `json:"code"`
}

func JoinByCode(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body joinByCodeRequest
		if err := decode(r, w, &body); err != nil {
			writeError(w, d.Log, err)
			return
		}
		room, err := d.Roster.JoinByCode(r.Context(), body.Code, user(r))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, types.NewRoomView(room))
	}
}

func Join(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := d.Roster.Join(r.Context(), chi.URLParam(r, "id"), user(r))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, types.NewRoomView(room))
	}
}

func Leave(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := d.Roster.Leave(r.Context(), chi.URLParam(r, "id"), user(r))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Deleted bool `json:"deleted"`
		}{Deleted: deleted})
	}
}

type teamRequest struct {
	Team engine.Team `json:"team"`
}

func SelectTeam(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body teamRequest
		if err := decode(r, w, &body); err != nil {
			writeError(w, d.Log, err)
			return
		}
		room, err := d.Roster.SelectTeam(r.Context(), chi.URLParam(r, "id"), user(r), body.Team)
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, types.NewRoomView(room))
	}
}

func Start(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := d.Rooms.StartRoom(r.Context(), id, user(r).ID); err != nil {
			writeError(w, d.Log, err)
			return
		}
		room, err := d.Rooms.GetRoom(r.Context(), id)
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, types.NewRoomView(room))
	}
}

func DeleteRoom(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Rooms.CloseRoom(r.Context(), chi.URLParam(r, "id"), user(r).ID); err != nil {
			writeError(w, d.Log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func Quorum(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := d.Roster.Quorum(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

type scoreRequest struct {
	Answers []int `json:"answers"`
}

type scoreResponse struct {
	Score   int            `json:"score"`
	Answers []int          `json:"answers"`
	Room    types.RoomView `json:"room"`
}

// RecordScore grades a full answer sheet against the room's frozen questions
// and stores the result. Clients never submit a score directly, and only the
// first complete sheet counts.
func RecordScore(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body scoreRequest
		if err := decode(r, w, &body); err != nil {
			writeError(w, d.Log, err)
			return
		}
		u := user(r)
		room, err := d.Rooms.GetRoom(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		if room.State != engine.StateInProgress {
			writeError(w, d.Log, engine.ErrNotStarted)
			return
		}
		if !room.IsParticipant(u.ID) {
			writeError(w, d.Log, engine.ErrNotParticipant)
			return
		}
		if room.HasResult(u.ID) {
			writeError(w, d.Log, engine.ErrAlreadyRecorded)
			return
		}

		p := session.NewPlayback(room, u.ID)
		for _, opt := range body.Answers {
			if _, err := p.Answer(opt); err != nil {
				writeError(w, d.Log, err)
				return
			}
		}
		room, err = p.Finish(r.Context(), d.Rooms)
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, scoreResponse{Score: p.Score(), Answers: p.Answers(), Room: types.NewRoomView(room)})
	}
}

func participantRoom(r *http.Request, d Deps) (engine.Room, error) {
	room, err := d.Rooms.GetRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return engine.Room{}, err
	}
	if !room.IsParticipant(user(r).ID) {
		return engine.Room{}, engine.ErrNotParticipant
	}
	return room, nil
}

func ListMessages(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := participantRoom(r, d)
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		msgs, err := d.Chat.History(r.Context(), room.ID)
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		if msgs == nil {
			msgs = []chat.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

type messageRequest struct {
	Text string `json:"text"`
}

func SendMessage(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body messageRequest
		if err := decode(r, w, &body); err != nil {
			writeError(w, d.Log, err)
			return
		}
		room, err := participantRoom(r, d)
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		msg, err := d.Chat.Send(r.Context(), room.ID, user(r), body.Text)
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

// InviteLink builds the join link shared with friends.
func InviteLink(base, code string) string {
	return strings.TrimRight(base, "/") + "/join?code=" + url.QueryEscape(code)
}

func requestBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// InviteQR renders the room's invite link as a PNG QR code.
func InviteQR(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := d.Rooms.GetRoom(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		base := d.PublicURL
		if base == "" {
			base = requestBase(r)
		}
		png, err := qrcode.Encode(InviteLink(base, room.InviteCode), qrcode.Medium, qrSize)
		if err != nil {
			writeError(w, d.Log, fmt.Errorf("qr generation: %w", err))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	}
}

// Package types documents the websocket protocol spoken on GET /ws?room=<id>.
// The Go definitions live in internal/types.
package types

// Client -> Server
// select_team:
//   team: "unassigned" | "teamA" | "teamB"
//
// start: {}            (creator only, needs quorum)
//
// chat:
//   text: string       (trimmed; empty text is rejected)
//
// leave: {}            (the creator leaving closes the room for everyone)
//
// answer:
//   option: number     (index into the current question's options)

// Server -> Client
// room_state:
//   version: number    (increases with every change to room or chat)
//   room: {
//     id, inviteCode, creatorId, state: "waiting" | "in_progress",
//     difficulty: "facil" | "medio" | "dificil", theme?, questionCount,
//     minParticipants, createdAt,
//     participants: { [userId]: { displayName, avatarUrl?, score, team, finished } },
//     quorum: { met, currentCount, requiredCount },
//     questions?: QuestionView[]   (only while in_progress, never with the answer key)
//   }
//   messages: { id, senderId, senderName, text, timestamp }[]   (oldest first, last 50)
//
// room_closed: {}      (the room no longer exists; the socket closes next)
//
// question:            (a reconnect resumes at the first unanswered question)
//   number: number     (1-based)
//   total: number
//   question: { id, prompt, options: string[], reference?, difficulty, theme? }
//
// answer_result:
//   number, total, correct: boolean, score: number
//
// result:             (sent once per attempt; also on connect when already recorded)
//   total, score: number, answers: number[]
//
// error:
//   error: string      (stable code, e.g. "quorum_not_met", "request_pending",
//                       "already_recorded")
//   message: string

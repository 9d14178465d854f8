package storage

import (
	"errors"
	"fmt"
	"sort"

	"farmchat/models"
)

// ListConversations builds one entry per distinct counterpart appearing
// in selfID's message set, newest activity first. Previews stay
// encrypted; decryption happens client-side.
func (s *Store) ListConversations(selfID string) ([]models.Conversation, error) {
	if selfID == "" {
		return nil, errors.New("self id is required")
	}

	// Indexed range query on the participant columns, not a full scan.
	rows, err := s.db.Query(
		`SELECT id, sender_id, receiver_id, content, type, timestamp, read
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY timestamp ASC, id ASC`,
		selfID, selfID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages for user %q: %w", selfID, err)
	}
	defer rows.Close()

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	byOther := make(map[string]*models.Conversation)
	for _, message := range messages {
		otherID := message.SenderID
		if otherID == selfID {
			otherID = message.ReceiverID
		}

		entry, ok := byOther[otherID]
		if !ok {
			entry = &models.Conversation{OtherID: otherID}
			byOther[otherID] = entry
		}

		// Messages arrive oldest first, so the last assignment wins.
		entry.LastMsg = message.Content
		entry.Type = message.Type
		entry.Time = message.Timestamp

		if message.ReceiverID == selfID && !message.Read {
			entry.Unread++
		}
	}

	conversations := make([]models.Conversation, 0, len(byOther))
	for _, entry := range byOther {
		if user, err := s.GetUser(entry.OtherID); err == nil {
			entry.Name = user.Name
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		conversations = append(conversations, *entry)
	}

	sort.Slice(conversations, func(i, j int) bool {
		if conversations[i].Time != conversations[j].Time {
			return conversations[i].Time > conversations[j].Time
		}
		return conversations[i].OtherID < conversations[j].OtherID
	})

	return conversations, nil
}

package wa

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// ComposeJID turns a bare phone number or a serialized JID into a user JID.
func ComposeJID(id string) (types.JID, error) {
	id = DecomposeJID(id)
	if id == "" {
		return types.EmptyJID, fmt.Errorf("empty jid")
	}
	if strings.ContainsRune(id, '@') {
		jid, err := types.ParseJID(id)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("parse jid: %w", err)
		}
		return jid, nil
	}
	return types.NewJID(id, types.DefaultUserServer), nil
}

// DecomposeJID strips a leading "+" and surrounding whitespace, keeping any
// server suffix intact.
func DecomposeJID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "+") {
		id = id[1:]
	}
	return id
}

package roomkey

import "strings"

// Separator разделяет идентификаторы участников в ключе комнаты.
const Separator = "_"

// Direct строит детерминированный идентификатор личной комнаты двух участников.
// Пара сортируется лексикографически, поэтому Direct(a, b) == Direct(b, a).
func Direct(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + Separator + b
}

// Participants разбирает идентификатор комнаты обратно на пару участников.
func Participants(roomID string) (string, string, bool) {
	parts := strings.SplitN(roomID, Separator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// IsValid проверяет, что идентификатор комнаты состоит из двух непустых участников.
func IsValid(roomID string) bool {
	_, _, ok := Participants(roomID)
	return ok
}

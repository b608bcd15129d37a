package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"expense-agent/internal/domain"
)

func TestContextWindow_FirstN(t *testing.T) {
	require.Equal(t, 10, NewContextWindow(0).FirstN())
	require.Equal(t, 10, ContextWindow{}.FirstN())
	require.Equal(t, 3, NewContextWindow(3).FirstN())
}

func TestContextWindow_KeepsOldestTurns(t *testing.T) {
	w := NewContextWindow(10)
	prior := textTurns(15)

	got := w.Window(prior)
	require.Len(t, got, 10)
	require.Equal(t, prior[:10], got)

	require.Equal(t, prior[:4], w.Window(prior[:4]))
	require.Empty(t, w.Window(nil))
}

func TestContextWindow_Messages(t *testing.T) {
	msgs := NewContextWindow(2).Messages([]domain.Turn{
		{Kind: domain.TurnImage, Content: "https://img/a.jpg"},
		{Kind: domain.TurnText, Content: "nice photo~"},
		{Kind: domain.TurnText, Content: "dropped"},
	})
	require.Equal(t, []domain.RoleMessage{
		{Speaker: domain.SpeakerUser, ImageURL: "https://img/a.jpg"},
		{Speaker: domain.SpeakerAssistant, Content: "nice photo~"},
	}, msgs)
}

package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "sudooom.hrchat/internal/errors"
	"sudooom.hrchat/internal/model"
)

func aliceConversation() *model.Conversation {
	return &model.Conversation{
		ID:               "c-1",
		EmployeeKey:      "E100",
		ParticipantNames: [2]string{"Sarah Connor (HR)", "Alice Johnson"},
	}
}

func TestDeriveSenderID(t *testing.T) {
	r := NewResolver("", "")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"hr marker", "Sarah Connor (HR)", "hr_sconnor"},
		{"hr marker lower case", "someone (hr)", "hr_sconnor"},
		{"simple employee", "Alice Johnson", "emp_alice_johnson"},
		{"collapse whitespace", "  Alice \t  Johnson  ", "emp_alice_johnson"},
		{"strip punctuation", "Mary-Jane O'Neil", "emp_maryjane_oneil"},
		{"digits kept", "Agent 47", "emp_agent_47"},
		{"single name", "Bob", "emp_bob"},
		{"symbols only", "!!!", "emp_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.DeriveSenderID(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDeriveSenderID_InvalidIdentity(t *testing.T) {
	r := NewResolver("", "")

	for _, input := range []string{"", "   ", "\t\n"} {
		_, err := r.DeriveSenderID(input)
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidIdentity), "input %q", input)
	}
}

func TestDeriveSenderID_Deterministic(t *testing.T) {
	r := NewResolver("", "")
	for _, name := range []string{"Alice Johnson", "Sarah Connor (HR)", "Zoë  Smith"} {
		first, err := r.DeriveSenderID(name)
		require.NoError(t, err)
		second, err := r.DeriveSenderID(name)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestDeriveSenderID_ConfiguredHRNames(t *testing.T) {
	r := NewResolver("hr_desk", "[hr]", "People Team")

	id, err := r.DeriveSenderID("people   team")
	require.NoError(t, err)
	assert.Equal(t, "hr_desk", id)

	id, err = r.DeriveSenderID("Jane [HR]")
	require.NoError(t, err)
	assert.Equal(t, "hr_desk", id)

	// 默认标记不再生效
	id, err = r.DeriveSenderID("Sarah Connor (HR)")
	require.NoError(t, err)
	assert.Equal(t, "emp_sarah_connor_hr", id)
}

func TestIsSenderFor(t *testing.T) {
	r := NewResolver("", "")

	assert.True(t, r.IsSenderFor("emp_alice_johnson", "Alice Johnson"))
	assert.True(t, r.IsSenderFor("hr_sconnor", "Sarah Connor (HR)"))
	assert.False(t, r.IsSenderFor("emp_alice", "Alice Johnson"))
	assert.False(t, r.IsSenderFor("emp_", ""))
}

func TestValidateSender(t *testing.T) {
	r := NewResolver("", "")
	conv := aliceConversation()

	assert.True(t, r.ValidateSender("hr_sconnor", conv))
	assert.True(t, r.ValidateSender("emp_alice_johnson", conv))

	for _, id := range []string{"emp_bob_smith", "", "HR_SCONNOR", "emp_alice_johnson ", "alice_johnson"} {
		assert.False(t, r.ValidateSender(id, conv), "sender %q", id)
	}
	assert.False(t, r.ValidateSender("hr_sconnor", nil))
}

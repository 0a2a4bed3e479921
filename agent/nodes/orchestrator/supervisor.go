package orchestratornode

import (
	"strings"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

const goodbyeReply = "대화를 종료합니다. 이용해 주셔서 감사합니다."

var exitSentinels = map[string]bool{
	"/exit": true,
	"/quit": true,
}

// Supervise admits the turn or ends it on an empty message or an exit
// sentinel. An exit sentinel also ends the session. It never calls a model.
func Supervise(in *GraphState) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}
	st := in.Conversation

	last, _ := st.LastUserMessage()
	last = strings.TrimSpace(last)
	if last == "" || exitSentinels[strings.ToLower(last)] {
		in.SessionEnded = last != ""
		st.FinalResponse = goodbyeReply
		st.AppendMessage(statex.Message{
			Role:      statex.RoleAssistant,
			Content:   goodbyeReply,
			Name:      string(contractx.AgentSupervisor),
			CreatedAt: in.now(),
		})
		st.Status = statex.StatusCompleted
		st.Next = statex.NextEnd
		return in, nil
	}

	if st.Status == "" {
		st.Status = statex.StatusPlanning
	}
	st.Next = string(contractx.AgentOrchestrator)
	return in, nil
}

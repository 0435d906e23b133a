package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pliakos/crewd/internal/natsbus"
)

// NATS runs agents through request-reply on agent.<id>.exec. A remote
// backend (whatever actually hosts the agent) subscribes there and answers
// with an execReply. Every call carries a hard deadline; when it fires the
// returned Error has Timeout set so callers can distinguish a slow agent
// from a failed one.
type NATS struct {
	client  *natsbus.Client
	timeout time.Duration
}

type execReply struct {
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewNATS(client *natsbus.Client, timeout time.Duration) *NATS {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &NATS{client: client, timeout: timeout}
}

func (n *NATS) Execute(ctx context.Context, agentID string, in Input) (string, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return "", &Error{AgentID: agentID, Err: fmt.Errorf("marshal input: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg, err := n.client.RequestContext(ctx, natsbus.TopicAgentExec(agentID), data)
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
		return "", &Error{AgentID: agentID, Timeout: timedOut, Err: err}
	}

	var reply execReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return "", &Error{AgentID: agentID, Err: fmt.Errorf("unmarshal reply: %w", err)}
	}
	if reply.Status != "ok" {
		if reply.Error == "" {
			reply.Error = "backend reported failure"
		}
		return "", &Error{AgentID: agentID, Err: errors.New(reply.Error)}
	}
	return reply.Output, nil
}

package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

// TopicAgentExec is the request-reply subject a remote execution backend
// serves for a given agent.
func TopicAgentExec(agentID string) string {
	return fmt.Sprintf("agent.%s.exec", agentID)
}

func TopicEventsAgent(agentID string) string {
	return fmt.Sprintf("events.agent.%s", agentID)
}

func TopicEventsTask(taskID string) string {
	return fmt.Sprintf("events.task.%s", taskID)
}

func TopicEventsCollab(runID string) string {
	return fmt.Sprintf("events.collab.%s", runID)
}

// TopicCollabMail is a point-to-point mailbox subject for message-passing
// swarm coordination.
func TopicCollabMail(runID, agentID string) string {
	return fmt.Sprintf("collab.%s.mail.%s", runID, agentID)
}

const (
	// TopicIPC serves crewctl request-reply commands.
	TopicIPC = "host.ipc.crewd"

	TopicEventsAll    = "events.>"
	TopicEventsTasks  = "events.task.*"
	TopicEventsAgents = "events.agent.*"
	TopicEventsCollabs = "events.collab.*"
)

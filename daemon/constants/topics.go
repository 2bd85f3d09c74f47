package constants

import (
	"github.com/tech4242/mcphawk/daemon/domain"
	"github.com/tech4242/mcphawk/daemon/dto"
)

// Typed event bus topics. Each Topic[T] enforces at compile time that publishers
// send the correct Go type, eliminating a class of runtime type-assertion bugs.

var (
	// TopicRecord is published by the capture engine (C5) and the stdio
	// wrapper (C6) with every newly persisted *dto.MessageRecord.
	TopicRecord = domain.NewTopic[*dto.MessageRecord]("record")
	// TopicStats carries a dto.StatsSnapshot summary. No component in this
	// module publishes on it; subscribers receive nothing.
	TopicStats = domain.NewTopic[dto.StatsSnapshot]("stats")
)

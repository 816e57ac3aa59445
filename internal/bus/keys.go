package bus

import "fmt"

// Topic is the pub/sub channel a relay channel is published on.
func Topic(channel string) string {
	return channel
}

// HistoryKey is the capped list holding recent broadcasts for a channel.
func HistoryKey(channel string) string {
	return fmt.Sprintf("channels:%s", channel)
}

// PresenceKey is the sorted set of participants, scored by join rank.
func PresenceKey(channel string) string {
	return fmt.Sprintf("channels:%s:uuids", channel)
}

// RankKey is the counter used to hand out join ranks.
func RankKey(channel string) string {
	return fmt.Sprintf("channels:%s:rank", channel)
}

// Package notify delivers high-severity insights to configured webhooks
// (Slack, Teams, or plain HTTP POST), with a per-device-and-kind cooldown so
// a misbehaving instrument does not flood the channel.
package notify

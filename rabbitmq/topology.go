package rabbitmq

import (
	"sort"
	"strings"
)

const (
	ExchangeOrder        = "order_topic"
	ExchangeNotification = "notification"
	ExchangePayment      = "payment"

	QueueOrder         = "Order"
	QueueDelivery      = "Delivery"
	QueueParts         = "Parts"
	QueueEmail         = "EmailNotifications"
	QueueRefundRequest = "refund.request"
	QueueRefundResult  = "refund.result"
	QueueWebhooks      = "stripe_webhooks"
)

// Binding ties a queue to an exchange under one or more binding keys.
type Binding struct {
	Exchange string
	Queue    string
	Keys     []string
}

// Bindings is the static topology shared by every service.
var Bindings = []Binding{
	{Exchange: ExchangeOrder, Queue: QueueOrder, Keys: []string{"order.create", "order.payment_check"}},
	{Exchange: ExchangeOrder, Queue: QueueDelivery, Keys: []string{"delivery.#"}},
	{Exchange: ExchangeOrder, Queue: QueueParts, Keys: []string{"parts.#"}},
	{Exchange: ExchangeNotification, Queue: QueueEmail, Keys: []string{"notification.#"}},
	{Exchange: ExchangePayment, Queue: QueueRefundRequest, Keys: []string{"refund.request"}},
	{Exchange: ExchangePayment, Queue: QueueRefundResult, Keys: []string{"refund.processed", "refund.failed"}},
	{Exchange: ExchangePayment, Queue: QueueWebhooks, Keys: []string{"payment.webhook.#"}},
}

// Exchanges returns the topic exchanges named by Bindings.
func Exchanges() []string {
	seen := map[string]bool{}
	var out []string
	for _, b := range Bindings {
		if !seen[b.Exchange] {
			seen[b.Exchange] = true
			out = append(out, b.Exchange)
		}
	}
	return out
}

// Route returns the queues a message published to exchange with key would
// reach.
func Route(exchange, key string) []string {
	var queues []string
	for _, b := range Bindings {
		if b.Exchange != exchange {
			continue
		}
		for _, pattern := range b.Keys {
			if MatchTopic(pattern, key) {
				queues = append(queues, b.Queue)
				break
			}
		}
	}
	sort.Strings(queues)
	return queues
}

// MatchTopic implements AMQP topic matching: words are separated by dots,
// "*" matches exactly one word and "#" matches zero or more.
func MatchTopic(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern = pattern[1:]
		key = key[1:]
	}
	return len(key) == 0
}

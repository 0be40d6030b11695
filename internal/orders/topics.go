package orders

// TopicOrderEvents carries order lifecycle events (placement, status and
// payment changes) keyed by order id, so one order's events stay in order.
const TopicOrderEvents = "order.events"

package observability

const (
	MUsecaseRequests        MetricKey = "usecase_requests_total"
	MUsecaseDuration        MetricKey = "usecase_duration_seconds"
	MHTTPRequests           MetricKey = "http_requests_total"
	MHTTPRequestDuration    MetricKey = "http_request_duration_seconds"
	MGatewayRequests        MetricKey = "gateway_requests_total"
	MGatewayRequestDuration MetricKey = "gateway_request_duration_seconds"
	MStockAlerts            MetricKey = "stock_alerts_total"
	MDanglingTransactions   MetricKey = "settlement_dangling_transactions_total"
	MAlertListenerFailures  MetricKey = "alert_listener_failures_total"
)

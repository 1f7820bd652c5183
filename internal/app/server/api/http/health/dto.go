package health

// Input represents the input for health check endpoint
type Input struct{}

// Output represents the output for health check endpoint
type Output struct {
	Status int
	Body   Response
}

// Response represents the health check response
type Response struct {
	Status string `json:"status" example:"ok" doc:"Health status of the service"`
	Error  string `json:"error,omitempty" doc:"Storage error when the service is unavailable"`
}

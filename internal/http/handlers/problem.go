package handlers

import "github.com/gofiber/fiber/v2"

// MIMEProblemJSON is the content type of every error response.
const MIMEProblemJSON = "application/problem+json"

// Problem titles.
const (
	TitleRequest  = "Request error"
	TitleConvert  = "PDF convert error"
	TitleZip      = "ZIP write error"
	TitleInternal = "Internal server error"
)

// Problem is the JSON body of an error response.
type Problem struct {
	Type     string  `json:"type"`
	Title    string  `json:"title"`
	Status   int     `json:"status"`
	Detail   string  `json:"detail"`
	Instance *string `json:"instance"`
}

// NewProblem returns a problem of type about:blank.
func NewProblem(status int, title, detail string) Problem {
	return Problem{Type: "about:blank", Title: title, Status: status, Detail: detail}
}

// SendProblem writes p as the response.
func SendProblem(c *fiber.Ctx, p Problem) error {
	return c.Status(p.Status).JSON(p, MIMEProblemJSON)
}

package models

// AskRequest binds the question from either a form post or a JSON body.
type AskRequest struct {
	Question string `form:"question" json:"question"`
}

// UploadedFile is an in-memory upload handed from the controller to the service.
type UploadedFile struct {
	Filename string
	Data     []byte
}

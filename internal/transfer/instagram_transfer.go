package transfer

type InstagramTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type InstagramContainerResponse struct {
	ID    string          `json:"id"`
	Error *InstagramError `json:"error"`
}

type InstagramPublishResponse struct {
	ID    string          `json:"id"`
	Error *InstagramError `json:"error"`
}

type InstagramError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	FBTraceID    string `json:"fbtrace_id"`
}

package entity

// UserLoginData is the identity carried in a verified access token.
type UserLoginData struct {
	ID       string
	Username string
	Email    string
}

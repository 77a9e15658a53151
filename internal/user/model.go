package user

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
}

type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=50,alphanumunicode"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// AuthResponse is returned by register and login. The token is a signed JWT
// carrying the user id and username.
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	ID          int64  `json:"id"`
	Username    string `json:"username"`
}

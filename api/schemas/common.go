package schemas

// Credential holds the portal login. The password never leaves the process.
type Credential struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"-" yaml:"-"`
}

package model

// Site describes a target site's HTTP surface.
type Site struct {
	Name       string   `yaml:"name"`
	Domains    []string `yaml:"domains"`
	BaseURL    string   `yaml:"base_url"`
	LoginPath  string   `yaml:"login_path"`
	SignupPath string   `yaml:"signup_path"`
	WhoamiPath string   `yaml:"whoami_path"`
}

// Profile is the account data submitted to a site's signup endpoint.
type Profile struct {
	Username  string
	Password  string
	Email     string
	FirstName string
	LastName  string
	Location  string
}

// Identity is who the target site says is logged in.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

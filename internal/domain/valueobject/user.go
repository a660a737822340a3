package valueobject

// User is an immutable value object identifying a message sender.
type User struct {
	id       string
	username string
	userType string
	metadata map[string]string
}

// NewUser creates a User.
func NewUser(id, username, userType string) User {
	return User{
		id:       id,
		username: username,
		userType: userType,
		metadata: make(map[string]string),
	}
}

// NewUserWithMetadata creates a User carrying metadata.
func NewUserWithMetadata(id, username, userType string, metadata map[string]string) User {
	// Value objects are immutable; copy the map.
	meta := make(map[string]string)
	for k, v := range metadata {
		meta[k] = v
	}

	return User{
		id:       id,
		username: username,
		userType: userType,
		metadata: meta,
	}
}

// ID returns the user ID.
func (u User) ID() string {
	return u.id
}

// Username returns the username.
func (u User) Username() string {
	return u.username
}

// Type returns the user type.
func (u User) Type() string {
	return u.userType
}

// Metadata returns a copy of the user's metadata.
func (u User) Metadata() map[string]string {
	meta := make(map[string]string)
	for k, v := range u.metadata {
		meta[k] = v
	}
	return meta
}

// GetMetadata retrieves a single metadata value.
func (u User) GetMetadata(key string) (string, bool) {
	val, ok := u.metadata[key]
	return val, ok
}

// IsAnonymous reports whether the user is anonymous.
func (u User) IsAnonymous() bool {
	return u.userType == "anonymous"
}

// Equals compares two User values for equality.
func (u User) Equals(other User) bool {
	if u.id != other.id || u.username != other.username || u.userType != other.userType {
		return false
	}

	if len(u.metadata) != len(other.metadata) {
		return false
	}

	for k, v := range u.metadata {
		if otherV, ok := other.metadata[k]; !ok || v != otherV {
			return false
		}
	}

	return true
}

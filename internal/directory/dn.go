package directory

import "fmt"

// Object classes used by the master's directory schema.
const (
	ObjectClassPerson     = "sdcperson"
	ObjectClassProbe      = "amonprobe"
	ObjectClassProbeGroup = "amonprobegroup"
)

// UsersBase is the container all user trees hang off.
const UsersBase = "ou=users, o=smartdc"

// UserDN returns the DN of a user entry.
func UserDN(userUUID string) string {
	return fmt.Sprintf("uuid=%s, %s", userUUID, UsersBase)
}

// ProbeDN returns the DN of a probe entry under its owner.
func ProbeDN(userUUID, probeUUID string) string {
	return fmt.Sprintf("amonprobe=%s, %s", probeUUID, UserDN(userUUID))
}

// ProbeGroupDN returns the DN of a probe-group entry under its owner.
func ProbeGroupDN(userUUID, groupUUID string) string {
	return fmt.Sprintf("amonprobegroup=%s, %s", groupUUID, UserDN(userUUID))
}

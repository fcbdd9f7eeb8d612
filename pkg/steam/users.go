package steam

import (
	"os"
	"sort"
	"strconv"
)

// User is a local Steam account found under userdata/. The numeric ID is
// Steam's 32-bit "short" account ID, not the 64-bit SteamID.
type User struct {
	ID string
}

// GetUsers lists the local Steam accounts that have logged into this
// machine, newest modification first. Account "0" is Steam's anonymous
// placeholder profile and is skipped.
func GetUsers() ([]User, error) {
	paths, err := NewPaths()
	if err != nil {
		return nil, err
	}
	return usersUnder(paths.UserDataDir())
}

func usersUnder(userDataDir string) ([]User, error) {
	entries, err := os.ReadDir(userDataDir)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		user    User
		modTime int64
	}
	var candidates []candidate
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		if id == "0" {
			continue
		}
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			continue
		}
		info, err := entry.Info()
		var modTime int64
		if err == nil {
			modTime = info.ModTime().Unix()
		}
		candidates = append(candidates, candidate{user: User{ID: id}, modTime: modTime})
	}
	if len(candidates) == 0 {
		return nil, ErrUserNotFound
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime > candidates[j].modTime
	})

	users := make([]User, len(candidates))
	for i, c := range candidates {
		users[i] = c.user
	}
	return users, nil
}

package tasks

import "math/rand/v2"

// Names are the users a task can belong to or be shared with. The empty
// user is the admin who sees every task.
var Names = []string{
	"Henry", "William", "Geoffrey", "Jim", "Yvonne", "Jamie", "Leticia",
	"Priscilla", "Sidney", "Nancy", "Edmund", "Bill", "Megan",
}

// KnownName reports whether name is in Names.
func KnownName(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// RandomName picks a name from Names. A nil r uses the global source.
func RandomName(r *rand.Rand) string {
	if r == nil {
		return Names[rand.IntN(len(Names))]
	}
	return Names[r.IntN(len(Names))]
}

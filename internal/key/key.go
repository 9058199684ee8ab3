// Package key holds the key conventions shared by the command, data and
// history tables: version-suffixed sort keys, tenant codes and the
// well-known master keys.
package key

import (
	"strconv"
	"strings"
)

const (
	// VersionFirst is the version of a key that has never been written.
	VersionFirst = 0
	// VersionLatest asks the command store to resolve the latest version.
	VersionLatest = -1

	VerSeparator = "@"
	KeySeparator = "#"

	DefaultTenantCode = "single"
)

// DetailKey addresses one row in any of the tables.
type DetailKey struct {
	PK string `json:"pk"`
	SK string `json:"sk"`
}

func (k DetailKey) String() string {
	return k.PK + KeySeparator + k.SK
}

// Versioned returns the key with its sort key re-suffixed with version.
func (k DetailKey) Versioned(version int) DetailKey {
	return DetailKey{PK: k.PK, SK: AddSortKeyVersion(k.SK, version)}
}

// Base returns the key with any version suffix removed.
func (k DetailKey) Base() DetailKey {
	return DetailKey{PK: k.PK, SK: RemoveSortKeyVersion(k.SK)}
}

// AddSortKeyVersion replaces any existing version suffix of sk with version.
func AddSortKeyVersion(sk string, version int) string {
	return RemoveSortKeyVersion(sk) + VerSeparator + strconv.Itoa(version)
}

// RemoveSortKeyVersion strips the text after the last "@".
func RemoveSortKeyVersion(sk string) string {
	idx := strings.LastIndex(sk, VerSeparator)
	if idx == -1 {
		return sk
	}
	return sk[:idx]
}

// SortKeyVersion parses the version suffix of sk.
// Unversioned or malformed sort keys report VersionFirst.
func SortKeyVersion(sk string) int {
	idx := strings.LastIndex(sk, VerSeparator)
	if idx == -1 {
		return VersionFirst
	}
	v, err := strconv.Atoi(sk[idx+1:])
	if err != nil {
		return VersionFirst
	}
	return v
}

// HasVersion reports whether sk carries a version suffix.
func HasVersion(sk string) bool {
	return strings.Contains(sk, VerSeparator)
}

// TenantCode extracts the tenant from a partition key of the form
// "{ENTITY}#{tenant}". Keys without a separator have no tenant.
func TenantCode(pk string) string {
	idx := strings.Index(pk, KeySeparator)
	if idx == -1 {
		return ""
	}
	return pk[idx+1:]
}

// GenerateID derives a record id from its key, ignoring the version.
func GenerateID(pk, sk string) string {
	return pk + KeySeparator + RemoveSortKeyVersion(sk)
}

// MasterPK is the partition of per-tenant settings rows.
func MasterPK(tenant string) string {
	if tenant == "" {
		tenant = DefaultTenantCode
	}
	return "MASTER" + KeySeparator + tenant
}

// TTLSK is the sort key of the retention policy for a physical table.
func TTLSK(physicalTable string) string {
	return "TTL" + KeySeparator + physicalTable
}

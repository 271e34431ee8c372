package api

// TenantHeader carries the caller's tenant id
const TenantHeader = "X-Tenant-ID"

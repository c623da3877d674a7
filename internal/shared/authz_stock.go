package shared

// Procurement-to-stock permissions.
const (
	PermIndentView    = "indent.view"
	PermIndentCreate  = "indent.create"
	PermIndentApprove = "indent.approve"
	PermIndentIssue   = "indent.issue"

	PermPOView    = "procurement.po.view"
	PermPOEdit    = "procurement.po.edit"
	PermPOApprove = "procurement.po.approve"

	PermSOView    = "procurement.so.view"
	PermSOEdit    = "procurement.so.edit"
	PermSOApprove = "procurement.so.approve"

	PermGRNView   = "procurement.grn.view"
	PermGRNCreate = "procurement.grn.create"

	PermRTVView   = "procurement.rtv.view"
	PermRTVCreate = "procurement.rtv.create"

	PermStockView   = "inventory.view"
	PermStockAdjust = "inventory.adjust"

	PermMasterView = "master.view"
	PermMasterEdit = "master.edit"

	PermPermissionsView = "permissions.view"
	PermPermissionsEdit = "permissions.edit"

	PermReportsView = "reports.view"
	PermAuditView   = "audit.view"
)

// StockScopes lists every permission the service checks.
func StockScopes() []string {
	return []string{
		PermIndentView,
		PermIndentCreate,
		PermIndentApprove,
		PermIndentIssue,
		PermPOView,
		PermPOEdit,
		PermPOApprove,
		PermSOView,
		PermSOEdit,
		PermSOApprove,
		PermGRNView,
		PermGRNCreate,
		PermRTVView,
		PermRTVCreate,
		PermStockView,
		PermStockAdjust,
		PermMasterView,
		PermMasterEdit,
		PermPermissionsView,
		PermPermissionsEdit,
		PermReportsView,
		PermAuditView,
	}
}
